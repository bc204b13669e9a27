package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/audiolimiter/internal/observe"
	"github.com/MrWong99/audiolimiter/internal/pipeline"
)

// writeTimeout bounds a single meter frame write to a slow client.
const writeTimeout = 2 * time.Second

// MeterFrame is one live meter sample pushed over /api/meter.
type MeterFrame struct {
	State           pipeline.State `json:"state"`
	ThresholdDB     float64        `json:"threshold_db"`
	GainReductionDB float64        `json:"gain_reduction_db"`
	InputPeakDB     float64        `json:"input_peak_db"`
	OutputPeakDB    float64        `json:"output_peak_db"`
	BufferedFrames  int            `json:"buffered_frames"`
	Overflows       uint64         `json:"overflows"`
	Underruns       uint64         `json:"underruns"`
}

// NewMeterFrame extracts the meter fields from st. While idle the threshold
// reported is the stored selection's.
func NewMeterFrame(st pipeline.Status, sel pipeline.Selection) MeterFrame {
	f := MeterFrame{
		State:       st.State,
		ThresholdDB: sel.ThresholdDB,
		Overflows:   st.Totals.Overflows,
		Underruns:   st.Totals.Underruns,
	}
	if st.Running() {
		f.ThresholdDB = st.ThresholdDB
		f.GainReductionDB = st.Stats.GainReductionDB
		f.InputPeakDB = st.Stats.InputPeakDB
		f.OutputPeakDB = st.Stats.OutputPeakDB
		f.BufferedFrames = st.Stats.Bridge.BufferedFrames
	}
	return f
}

// handleMeter upgrades to a websocket and pushes a [MeterFrame] every meter
// interval until the client disconnects. Client messages are ignored.
func (s *Server) handleMeter(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error response.
		observe.Logger(r.Context()).Debug("meter websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx)
	log.Debug("meter client connected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(s.meterInterval)
	defer ticker.Stop()

	for {
		if err := s.writeFrame(ctx, conn); err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				log.Debug("meter client write failed", "err", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, NewMeterFrame(s.pipe.Status(), s.sel.Get()))
}
