package music

import (
	"context"

	"github.com/JeanRibes/midi-tracker/midifile"
	"github.com/JeanRibes/midi-tracker/output"
	. "github.com/JeanRibes/midi-tracker/shared"

	charmlog "github.com/charmbracelet/log"
)

// Run is the control loop. It consumes sinkLoop until ctx is done or a Quit
// message arrives, and reports state changes and failures on sinkUI. Port
// events are forwarded to sinkUI; removed ports are passed to forget.
//
// Payloads: PlayPause plays positions [Number, Number2) (Number2 0 is the
// end of the song), StateImport merges when Boolean is set, mixer messages
// carry the track in Number and the column or velocity in Number2.
func Run(ctx context.Context, cancel func(), state *Session, ports <-chan output.PortEvent, forget func(port string), sinkUI chan<- Message, sinkLoop <-chan Message) {
	logger := charmlog.FromContext(ctx).WithPrefix("loop")
	logger.Info("start")
	ctx = charmlog.WithContext(ctx, logger)

	notify := func(msg Message) {
		select {
		case sinkUI <- msg:
		case <-ctx.Done():
		}
	}
	fail := func(err error) {
		logger.Error(err)
		notify(Message{Type: Error, String: err.Error()})
	}

loopchan:
	for {
		select {
		case <-ctx.Done():
			logger.Debug("context done")
			break loopchan
		case ev, ok := <-ports:
			if !ok {
				ports = nil
				continue
			}
			logger.Info("port "+ev.Type.String(), "port", ev.Name)
			if ev.Type == output.PortRemoved && forget != nil {
				forget(ev.Name)
			}
			notify(ev.Message())
		case msg := <-sinkLoop:
			logger.Debug("message", "msg", msg.Describe())
			switch msg.Type {
			case Quit:
				cancel()
				break loopchan
			case PlayPause:
				if state.Playing() {
					state.Stop()
					logger.Info("stop playing")
					continue
				}
				if err := state.Play(msg.Number, msg.Number2); err != nil {
					fail(err)
					continue
				}
				notify(Message{Type: PlayPause, Boolean: true, Number: msg.Number})
				done := state.Player.Done()
				go func() {
					select {
					case <-done:
						notify(Message{Type: PlayPause, Boolean: false})
						logger.Debug("finished playing")
					case <-ctx.Done():
					}
				}()
				logger.Info("start playing", "from", msg.Number)
			case Stop:
				state.Stop()
			case Loop:
				state.Player.SetLooping(msg.Boolean)
				notify(Message{Type: Loop, Boolean: msg.Boolean})
			case Status:
				notify(Message{Type: Status, String: state.Player.State().String()})
			case StateImport:
				mode := midifile.Fresh
				if msg.Boolean {
					mode = midifile.Merge
				}
				logger.Debug("loading", "file", msg.String, "mode", mode)
				res, err := state.Import(ctx, msg.String, mode)
				if err != nil {
					fail(err)
					continue
				}
				notify(Message{Type: StateImport, String: msg.String, Number: len(res.Tracks), Number2: res.Notes})
			case StateExport:
				path, err := state.Export(msg.String)
				if err != nil {
					fail(err)
					continue
				}
				notify(Message{Type: StateExport, String: path})
			case Quantize:
				if err := state.Quantize(ctx); err != nil {
					fail(err)
					continue
				}
				notify(Message{Type: Quantize})
			case TrackMute:
				state.Mixer.SetTrackMuted(msg.Number, msg.Boolean)
				notify(msg)
			case TrackSolo:
				state.Mixer.SetTrackSoloed(msg.Number, msg.Boolean)
				notify(msg)
			case TrackVelocity:
				state.Mixer.SetTrackVelocity(msg.Number, uint8(min(max(msg.Number2, 0), 127)))
				notify(msg)
			case ColumnMute:
				state.Mixer.SetColumnMuted(msg.Number, msg.Number2, msg.Boolean)
				notify(msg)
			case ColumnSolo:
				state.Mixer.SetColumnSoloed(msg.Number, msg.Number2, msg.Boolean)
				notify(msg)
			case MixerReset:
				state.Mixer.Reset()
				notify(msg)
			default:
				logger.Warn("unknown message type", "type", msg.Type)
			}
		}
	}
	state.Stop()
	logger.Info("stop")
}
