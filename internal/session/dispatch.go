package session

import (
	"net"

	"github.com/rohde-schwarz/tracy/internal/wire"
)

// dispatch handles one client frame per spec.md §4.5's command table.
// Any error returned terminates the session.
func (w *Worker) dispatch(conn net.Conn, cmd wire.Command, payload []byte) error {
	switch cmd {
	case wire.ListRequest:
		names := w.cfg.Registry.SnapshotNames()
		return wire.WriteFrame(conn, wire.ListReply, wire.EncodeNameList(names))

	case wire.EnableRequest:
		names, err := wire.DecodeNameList(payload)
		if err != nil {
			return err
		}
		w.cfg.Registry.SetEnabled(names, true)
		return nil

	case wire.DisableRequest:
		names, err := wire.DecodeNameList(payload)
		if err != nil {
			return err
		}
		w.cfg.Registry.SetEnabled(names, false)
		return nil

	default:
		return &wire.ProtocolError{Reason: "unhandled command " + cmd.String()}
	}
}
