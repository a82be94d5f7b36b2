package infra

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

const (
	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = "/org/freedesktop/Notifications"
	notificationsIface   = "org.freedesktop.Notifications"
)

// dbusCaller is the part of dbus.BusObject the warning needs.
type dbusCaller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// NotificationWarning implements domain.WarningDisplay with desktop
// notifications on the session bus.
type NotificationWarning struct {
	appName string
	summary string
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *dbus.Conn
	obj    dbusCaller
	lastID uint32
}

// NewNotificationWarning creates a warning display. The bus connection is
// opened on first use.
func NewNotificationWarning(appName string, timeout time.Duration, logger *zap.Logger) *NotificationWarning {
	return &NotificationWarning{
		appName: appName,
		summary: "App blocked",
		timeout: timeout,
		logger:  logger,
	}
}

func (n *NotificationWarning) object() (dbusCaller, error) {
	if n.obj != nil {
		return n.obj, nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	n.conn = conn
	n.obj = conn.Object(notificationsService, dbus.ObjectPath(notificationsPath))
	return n.obj, nil
}

// ShowWarning posts a critical notification, replacing the previous one.
func (n *NotificationWarning) ShowWarning(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	obj, err := n.object()
	if err != nil {
		return err
	}

	call := obj.Call(notificationsIface+".Notify", 0,
		n.appName,        // app_name
		n.lastID,         // replaces_id
		"dialog-warning", // app_icon
		n.summary,        // summary
		text,             // body
		[]string{},       // actions
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(2)), // critical
		},
		int32(n.timeout/time.Millisecond), // expire_timeout
	)
	if call.Err != nil {
		return fmt.Errorf("failed to send notification: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		n.logger.Debug("notification id not returned", zap.Error(err))
		return nil
	}
	n.lastID = id
	return nil
}

// HideWarning closes the last notification, if any.
func (n *NotificationWarning) HideWarning() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lastID == 0 || n.obj == nil {
		return nil
	}
	id := n.lastID
	n.lastID = 0

	call := n.obj.Call(notificationsIface+".CloseNotification", 0, id)
	if call.Err != nil {
		return fmt.Errorf("failed to close notification %d: %w", id, call.Err)
	}
	return nil
}

// Close releases the bus connection.
func (n *NotificationWarning) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.obj = nil
	if n.conn != nil {
		err := n.conn.Close()
		n.conn = nil
		return err
	}
	return nil
}

// Ensure NotificationWarning implements domain.WarningDisplay.
var _ domain.WarningDisplay = (*NotificationWarning)(nil)
