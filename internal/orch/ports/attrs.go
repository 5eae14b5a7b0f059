package ports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/task"
)

var (
	// errTransient marks a failed capability query; the field is retried.
	errTransient = errors.New("transient device failure")
	// errUnsupported marks a capability the port does not have.
	errUnsupported = errors.New("not supported by port")
)

// attrOutcome classifies the error of one attribute change. Device failures
// go through the shared classifier; input and capability errors are
// terminal for the field.
func attrOutcome(err error) device.Outcome {
	if err == nil {
		return device.Success
	}
	if errors.Is(err, errTransient) {
		return device.Retry
	}
	var se *device.StatusError
	if errors.As(err, &se) {
		return se.Outcome()
	}
	return device.Terminal
}

// applyAttributes applies every field of t to p, each independently.
//
// Fields that need the link down are applied inside one admin-down window:
// the port is taken down once, all of them are changed, and the admin-up
// state is restored once at the end. Fields that must be retried are kept
// in the returned replacement task; if any of them needs the link down, the
// restore is deferred into it as well.
func (r *Reconciler) applyAttributes(ctx context.Context, p *Port, t task.Task) (engine.Result, error) {
	var (
		downChanges []task.FieldValue
		serdes      []task.FieldValue
		others      []task.FieldValue
		admin       *task.FieldValue
		retained    []string
	)
	handle := func(fields []string, err error) error {
		switch attrOutcome(err) {
		case device.Success:
		case device.Retry:
			slog.Warn("port attribute retried", "port", p.Alias, "fields", fields, "error", err)
			retained = append(retained, fields...)
		case device.Terminal:
			slog.Error("port attribute dropped", "port", p.Alias, "fields", fields, "error", err)
		default:
			return engine.NewDeviceFatal(PortTable, p.Alias, err)
		}
		return nil
	}

	for _, fv := range t.Fields {
		switch {
		case fv.Field == fieldAdminStatus:
			admin = &fv
		case fv.Field == fieldAlias:
		case fv.Field == fieldLanes:
			if lanes, err := parseLanes(fv.Value); err == nil && device.LaneKey(lanes) != device.LaneKey(p.Lanes) {
				slog.Warn("port lanes cannot change", "port", p.Alias, "lanes", fv.Value)
			}
		case fv.Field == fieldIndex:
			if n, err := parseUint32(fv.Value); err == nil {
				p.Index = int(n)
			}
		case fv.Field == fieldDescription:
			p.Description = fv.Value
		case isSerdesField(fv.Field):
			if p.SerdesFields[fv.Field] != fv.Value {
				serdes = append(serdes, fv)
			}
		case needsAdminDown(fv.Field):
			if unchanged(p, fv) {
				continue
			}
			if err := r.checkField(ctx, p, fv); err != nil {
				if err := handle([]string{fv.Field}, err); err != nil {
					return engine.Result{}, err
				}
				continue
			}
			downChanges = append(downChanges, fv)
		default:
			others = append(others, fv)
		}
	}

	if err := checkSerdes(serdes); err != nil {
		slog.Error("port attribute dropped", "port", p.Alias, "fields", fieldNames(serdes), "error", err)
		serdes = nil
	}

	wasUp := p.AdminUp
	restore := false
	if (len(downChanges) > 0 || len(serdes) > 0) && p.AdminUp {
		err := r.setAdmin(ctx, p, false)
		switch attrOutcome(err) {
		case device.Success:
			restore = true
		case device.Retry:
			return engine.Retry(), nil
		case device.Terminal:
			slog.Error("port admin down rejected, skipping fields that need it", "port", p.Alias, "error", err)
			downChanges, serdes = nil, nil
		default:
			return engine.Result{}, engine.NewDeviceFatal(PortTable, p.Alias, err)
		}
	}

	for _, fv := range downChanges {
		if err := handle([]string{fv.Field}, r.applyField(ctx, p, fv)); err != nil {
			return engine.Result{}, err
		}
	}
	if len(serdes) > 0 {
		if err := handle(fieldNames(serdes), r.applySerdes(ctx, p, serdes)); err != nil {
			return engine.Result{}, err
		}
	}
	for _, fv := range others {
		if err := handle([]string{fv.Field}, r.applyField(ctx, p, fv)); err != nil {
			return engine.Result{}, err
		}
	}

	desired, apply := wasUp, restore
	if admin != nil {
		up, err := parseAdminStatus(admin.Value)
		if err != nil {
			slog.Error("port attribute dropped", "port", p.Alias, "fields", []string{fieldAdminStatus}, "error", err)
		} else {
			desired, apply = up, true
		}
	}
	deferRestore := false
	if apply {
		switch {
		case desired && slices.ContainsFunc(retained, needsAdminDown):
			deferRestore = true
		case p.AdminUp != desired:
			err := r.setAdmin(ctx, p, desired)
			if attrOutcome(err) == device.Retry {
				deferRestore = true
			}
			if err := handle(nil, err); err != nil {
				return engine.Result{}, err
			}
		}
	}

	if len(retained) == 0 && !deferRestore {
		r.notifyPort(Updated, p)
		return engine.Consumed(), nil
	}
	next := t.Narrow(retained...)
	if deferRestore {
		next = next.WithField(fieldAdminStatus, formatAdminStatus(desired))
	}
	return engine.RetryWith(next), nil
}

func fieldNames(fields []task.FieldValue) []string {
	names := make([]string, len(fields))
	for i, fv := range fields {
		names[i] = fv.Field
	}
	return names
}

// unchanged reports whether fv already matches the port state.
func unchanged(p *Port, fv task.FieldValue) bool {
	switch fv.Field {
	case fieldSpeed:
		v, err := parseUint32(fv.Value)
		return err == nil && v == p.Speed
	case fieldMTU:
		v, err := parseUint32(fv.Value)
		return err == nil && v == p.MTU
	case fieldAutoNeg:
		v, err := parseOnOff(fv.Value)
		return err == nil && v == p.AutoNeg
	case fieldLinkTraining:
		v, err := parseOnOff(fv.Value)
		return err == nil && v == p.LinkTraining
	case fieldAdvSpeeds:
		v, err := parseAdvSpeeds(fv.Value)
		return err == nil && slices.Equal(v, p.AdvSpeeds)
	case fieldInterfaceType:
		return strings.ToLower(strings.TrimSpace(fv.Value)) == p.InterfaceType
	case fieldAdvInterfaceTypes:
		v, err := parseNameList(fv.Value)
		return err == nil && slices.Equal(v, p.AdvInterfaceTypes)
	case fieldFEC:
		return strings.ToLower(strings.TrimSpace(fv.Value)) == p.FEC
	}
	return false
}

func (r *Reconciler) setAdmin(ctx context.Context, p *Port, up bool) error {
	if err := r.set(ctx, p, device.AttrPortAdminState, up); err != nil {
		return err
	}
	p.AdminUp = up
	r.mirrorAdminState(p)
	return nil
}

func (r *Reconciler) set(ctx context.Context, p *Port, id device.AttrID, v any) error {
	st := r.octx.Device.Set(ctx, device.ObjectPort, p.OID, device.Attr{ID: id, Value: v})
	return device.NewStatusError(device.OpSet, device.ObjectPort, p.OID, id, st)
}

// checkField parses fv and checks it against the port's capabilities
// without touching the device. Fields that fail here never open an
// admin-down window.
func (r *Reconciler) checkField(ctx context.Context, p *Port, fv task.FieldValue) error {
	switch fv.Field {
	case fieldSpeed:
		v, err := parseUint32(fv.Value)
		if err != nil {
			return err
		}
		return r.checkSpeeds(ctx, p, v)
	case fieldAdvSpeeds:
		v, err := parseAdvSpeeds(fv.Value)
		if err != nil {
			return err
		}
		return r.checkSpeeds(ctx, p, v...)
	case fieldAutoNeg:
		if _, err := parseOnOff(fv.Value); err != nil {
			return err
		}
		return r.checkSupported(ctx, p, device.AttrPortSupportedAutoNeg)
	case fieldLinkTraining:
		if _, err := parseOnOff(fv.Value); err != nil {
			return err
		}
		return r.checkSupported(ctx, p, device.AttrPortSupportedLinkTrain)
	case fieldAdvInterfaceTypes:
		_, err := parseNameList(fv.Value)
		return err
	case fieldFEC:
		v := strings.ToLower(strings.TrimSpace(fv.Value))
		if !slices.Contains(fecModes, v) {
			return fmt.Errorf("invalid fec mode %q", fv.Value)
		}
		caps, err := r.capability(ctx, p, device.AttrPortSupportedFECModes)
		if err != nil {
			return err
		}
		if modes, ok := caps.([]string); ok && !slices.Contains(modes, v) {
			return fmt.Errorf("fec %s: %w", v, errUnsupported)
		}
	case fieldMTU:
		_, err := parseUint32(fv.Value)
		return err
	}
	return nil
}

// applyField applies one non-serdes field.
func (r *Reconciler) applyField(ctx context.Context, p *Port, fv task.FieldValue) error {
	if unchanged(p, fv) {
		return nil
	}
	if err := r.checkField(ctx, p, fv); err != nil {
		return err
	}
	switch fv.Field {
	case fieldSpeed:
		v, _ := parseUint32(fv.Value)
		if err := r.set(ctx, p, device.AttrPortSpeed, v); err != nil {
			return err
		}
		p.Speed = v

	case fieldAdvSpeeds:
		v, _ := parseAdvSpeeds(fv.Value)
		if err := r.set(ctx, p, device.AttrPortAdvSpeeds, v); err != nil {
			return err
		}
		p.AdvSpeeds = v

	case fieldAutoNeg:
		v, _ := parseOnOff(fv.Value)
		if err := r.set(ctx, p, device.AttrPortAutoNeg, v); err != nil {
			return err
		}
		p.AutoNeg = v

	case fieldLinkTraining:
		v, _ := parseOnOff(fv.Value)
		if err := r.set(ctx, p, device.AttrPortLinkTraining, v); err != nil {
			return err
		}
		p.LinkTraining = v

	case fieldInterfaceType:
		v := strings.ToLower(strings.TrimSpace(fv.Value))
		if err := r.set(ctx, p, device.AttrPortInterfaceType, v); err != nil {
			return err
		}
		p.InterfaceType = v

	case fieldAdvInterfaceTypes:
		v, _ := parseNameList(fv.Value)
		if err := r.set(ctx, p, device.AttrPortAdvInterfaceTypes, v); err != nil {
			return err
		}
		p.AdvInterfaceTypes = v

	case fieldFEC:
		v := strings.ToLower(strings.TrimSpace(fv.Value))
		if err := r.set(ctx, p, device.AttrPortFEC, v); err != nil {
			return err
		}
		p.FEC = v

	case fieldMTU:
		v, _ := parseUint32(fv.Value)
		if err := r.set(ctx, p, device.AttrPortMTU, v); err != nil {
			return err
		}
		p.MTU = v
		r.mirrorMTU(p)

	default:
		slog.Debug("port field ignored", "port", p.Alias, "field", fv.Field)
	}
	return nil
}

// checkSerdes parses every serdes field of fields.
func checkSerdes(fields []task.FieldValue) error {
	for _, fv := range fields {
		if _, err := parseUint32List(fv.Value); err != nil {
			return fmt.Errorf("serdes %s: %w", fv.Field, err)
		}
	}
	return nil
}

// applySerdes rebuilds the serdes object with fields merged over the
// current serdes configuration.
func (r *Reconciler) applySerdes(ctx context.Context, p *Port, fields []task.FieldValue) error {
	values := maps.Clone(p.SerdesFields)
	if values == nil {
		values = make(map[string]string)
	}
	for _, fv := range fields {
		values[fv.Field] = fv.Value
	}
	attrs := []device.Attr{{ID: device.AttrSerdesPort, Value: p.OID}}
	for _, f := range serdesFields {
		v, ok := values[f]
		if !ok {
			continue
		}
		list, err := parseUint32List(v)
		if err != nil {
			return fmt.Errorf("serdes %s: %w", f, err)
		}
		attrs = append(attrs, device.Attr{ID: device.AttrID("PORT_SERDES_" + strings.ToUpper(f)), Value: list})
	}

	dev := r.octx.Device
	if p.Serdes != device.NullOID {
		st := dev.Remove(ctx, device.ObjectPortSerdes, p.Serdes)
		if err := device.NewStatusError(device.OpRemove, device.ObjectPortSerdes, p.Serdes, "", st); err != nil {
			return err
		}
		p.Serdes = device.NullOID
	}
	oid, st := dev.Create(ctx, device.ObjectPortSerdes, attrs...)
	if err := device.NewStatusError(device.OpCreate, device.ObjectPortSerdes, device.NullOID, "", st); err != nil {
		return err
	}
	p.Serdes = oid
	p.SerdesFields = values
	return nil
}

// capability returns the cached capability id of p, querying it the first
// time. Unsupported capabilities are cached as nil.
func (r *Reconciler) capability(ctx context.Context, p *Port, id device.AttrID) (any, error) {
	if v, ok := p.caps[id]; ok {
		return v, nil
	}
	attrs, st := r.octx.Device.Get(ctx, device.ObjectPort, p.OID, id)
	switch st {
	case device.StatusSuccess:
		p.caps[id] = attrs[0].Value
		return attrs[0].Value, nil
	case device.StatusAttrNotSupported, device.StatusNotSupported, device.StatusNotImplemented:
		p.caps[id] = nil
		return nil, nil
	}
	return nil, fmt.Errorf("query %s on %s: %s: %w", id, p.Alias, st, errTransient)
}

func (r *Reconciler) checkSupported(ctx context.Context, p *Port, id device.AttrID) error {
	v, err := r.capability(ctx, p, id)
	if err != nil {
		return err
	}
	if supported, _ := v.(bool); !supported {
		return fmt.Errorf("%s: %w", id, errUnsupported)
	}
	return nil
}

func (r *Reconciler) checkSpeeds(ctx context.Context, p *Port, speeds ...uint32) error {
	v, err := r.capability(ctx, p, device.AttrPortSupportedSpeeds)
	if err != nil {
		return err
	}
	supported, ok := v.([]uint32)
	if !ok {
		return nil
	}
	for _, s := range speeds {
		if !slices.Contains(supported, s) {
			return fmt.Errorf("speed %d: %w", s, errUnsupported)
		}
	}
	return nil
}
