package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrOffline is the cause of every Offline failure.
var ErrOffline = errors.New("backend offline")

// Offline is a Gateway with no backend: every operation fails with
// ConnectionFailure. It lets the tracker process recorded messages without
// network access.
type Offline struct{}

var _ Gateway = Offline{}

// AnnounceDeviceFlow implements Gateway.
func (Offline) AnnounceDeviceFlow(context.Context) (DeviceFlow, error) {
	return DeviceFlow{}, ConnectionError("announce_device_flow", ErrOffline)
}

// GetDeviceFlowStatus implements Gateway.
func (Offline) GetDeviceFlowStatus(context.Context, string) (DeviceFlowStatus, error) {
	return DeviceFlowStatus{}, ConnectionError("get_device_flow_status", ErrOffline)
}

// GetLoginToken implements Gateway.
func (Offline) GetLoginToken(context.Context, string) (string, error) {
	return "", ConnectionError("get_login_token", ErrOffline)
}

// GetOrganisation implements Gateway.
func (Offline) GetOrganisation(context.Context, string) (Organisation, error) {
	return Organisation{}, ConnectionError("get_organisation", ErrOffline)
}

// GetServerTime implements Gateway.
func (Offline) GetServerTime(context.Context) (time.Time, error) {
	return time.Time{}, ConnectionError("get_server_time", ErrOffline)
}

// EndModuleSession implements Gateway.
func (Offline) EndModuleSession(context.Context, EndModuleSession) error {
	return ConnectionError("end_module_session", ErrOffline)
}
