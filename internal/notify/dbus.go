package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/timepulse/timepulse/pkg/logger"
)

const (
	dbusDest      = "org.freedesktop.Notifications"
	dbusPath      = dbus.ObjectPath("/org/freedesktop/Notifications")
	dbusIface     = "org.freedesktop.Notifications"
	actionDefault = "default"

	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// DBus shows notifications through the freedesktop notification service.
type DBus struct {
	appName string
	conn    *dbus.Conn
	obj     dbus.BusObject
	log     logger.Logger
	signals chan *dbus.Signal
	done    chan struct{}

	*table
}

var _ Notifier = (*DBus)(nil)

// NewDBus connects to the session bus and subscribes to click and close
// signals.
func NewDBus(appName string, l logger.Logger) (*DBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbusPath),
		dbus.WithMatchInterface(dbusIface),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	d := &DBus{
		appName: appName,
		conn:    conn,
		obj:     conn.Object(dbusDest, dbusPath),
		log:     logger.WithPrefix(l, "notify"),
		signals: make(chan *dbus.Signal, 16),
		done:    make(chan struct{}),
		table:   newTable(),
	}
	conn.Signal(d.signals)
	go d.listen()
	return d, nil
}

func (d *DBus) listen() {
	defer close(d.done)
	for sig := range d.signals {
		switch sig.Name {
		case dbusIface + ".ActionInvoked":
			if len(sig.Body) < 2 {
				continue
			}
			id, _ := sig.Body[0].(uint32)
			if n, ok := d.get(id); ok {
				d.log.Debug("notification %d activated", id)
				d.fireActivate(n)
			}
		case dbusIface + ".NotificationClosed":
			if len(sig.Body) < 1 {
				continue
			}
			id, _ := sig.Body[0].(uint32)
			d.remove(id)
		}
	}
}

func (d *DBus) Show(ctx context.Context, title string, opts Options) (Notification, error) {
	if opts.Body == "" {
		opts.Body = DefaultBody
	}
	urgency := urgencyNormal
	timeout := int32(-1)
	if opts.RequireInteraction {
		urgency = urgencyCritical
		timeout = 0
	}
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgency),
	}
	if id := opts.Data[DataCountdownID]; id != "" {
		hints["x-timepulse-countdown-id"] = dbus.MakeVariant(id)
	}
	var id uint32
	call := d.obj.CallWithContext(ctx, dbusIface+".Notify", 0,
		d.appName,
		d.replaceID(opts.Tag),
		"",
		title,
		opts.Body,
		[]string{actionDefault, "Open"},
		hints,
		timeout,
	)
	if err := call.Store(&id); err != nil {
		return Notification{}, fmt.Errorf("notify: %w", err)
	}
	n := Notification{ID: id, Title: title, Options: opts}
	d.add(n)
	return n, nil
}

func (d *DBus) Close(ctx context.Context, n Notification) error {
	d.remove(n.ID)
	call := d.obj.CallWithContext(ctx, dbusIface+".CloseNotification", 0, n.ID)
	if call.Err != nil {
		return fmt.Errorf("close notification %d: %w", n.ID, call.Err)
	}
	return nil
}

// Shutdown disconnects from the session bus.
func (d *DBus) Shutdown() error {
	d.conn.RemoveSignal(d.signals)
	close(d.signals)
	<-d.done
	return d.conn.Close()
}
