package ports

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/roach88/orchd/internal/device"
)

// HandleNotification applies an asynchronous device event. Oper status
// changes update the port, count flaps and republish oper state with the
// negotiated speed and FEC to STATE PORT_TABLE.
func (r *Reconciler) HandleNotification(ctx context.Context, n device.Notification) error {
	if n.Kind != device.NotifyPortOperStatus {
		return nil
	}
	p, ok := r.byOID[n.OID]
	if !ok {
		slog.Debug("oper status for unknown port", "oid", n.OID.String())
		return nil
	}
	if p.OperStatus == n.OperStatus {
		return nil
	}
	p.OperStatus = n.OperStatus
	p.FlapCount++

	kv := []string{
		"oper_status", n.OperStatus.String(),
		"flap_count", strconv.FormatUint(p.FlapCount, 10),
	}
	if n.OperStatus == device.OperUp {
		attrs, st := r.octx.Device.Get(ctx, device.ObjectPort, p.OID, device.AttrPortSpeed, device.AttrPortFEC)
		if st == device.StatusSuccess {
			for _, a := range attrs {
				switch a.ID {
				case device.AttrPortSpeed:
					if v, ok := a.Value.(uint32); ok {
						kv = append(kv, "speed", strconv.FormatUint(uint64(v), 10))
					}
				case device.AttrPortFEC:
					if v, ok := a.Value.(string); ok {
						kv = append(kv, "fec", v)
					}
				}
			}
		} else {
			slog.Warn("negotiated speed and fec not read", "port", p.Alias, "status", st.String())
		}
	}

	slog.Info("port oper status changed", "port", p.Alias, "oper_status", n.OperStatus.String(), "flaps", p.FlapCount)
	if err := r.publishState(ctx, p.Alias, kv...); err != nil {
		return err
	}
	r.notifyPort(Updated, p)
	return nil
}
