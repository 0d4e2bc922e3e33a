// Package routerapi implements the device-API collaborator over the
// RouterOS REST endpoints (/rest/...). All results are written into the
// target's own state; the coordinator never sees wire-level data.
package routerapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/srg/rwatch/internal/router"
)

const defaultRequestTimeout = 10 * time.Second

// Client talks to RouterOS routers over their REST API. One client serves
// any number of targets; credentials and addresses come from the target.
// It implements router.Client.
type Client struct {
	http   *resty.Client
	logger *logrus.Logger

	// baseURL overrides the per-target URL scheme/host. Tests point it at
	// a local server; empty in production.
	baseURL string
}

// NewClient creates a REST client with the default timeout.
func NewClient(logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		http:   resty.New().SetTimeout(defaultRequestTimeout),
		logger: logger,
	}
}

func (c *Client) url(t *router.Target, path string) string {
	if c.baseURL != "" {
		return c.baseURL + "/rest/" + path
	}
	scheme := "http"
	if t.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/rest/%s", scheme, t.Address, t.Port, path)
}

func (c *Client) request(ctx context.Context, t *router.Target) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetBasicAuth(t.Username, t.Password)
}

// connectReason maps a transport error to the short status text recorded
// on the target.
func connectReason(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "Timeout"
	}
	return err.Error()
}

type identityDTO struct {
	Name string `json:"name"`
}

// Connect verifies the router is reachable and the credentials are
// accepted by reading /rest/system/identity. On success the target is
// marked Connected; on refusal or no answer it is marked Failed with the
// reason and (false, nil) is returned.
func (c *Client) Connect(ctx context.Context, t *router.Target) (bool, error) {
	t.SetStatus(router.ConnStatus{State: router.StateConnecting})
	c.logger.WithFields(logrus.Fields{
		"target":  t.Name,
		"address": t.Address,
	}).Info("Connecting to router...")

	var identity identityDTO
	resp, err := c.request(ctx, t).SetResult(&identity).Get(c.url(t, "system/identity"))
	if err != nil {
		reason := connectReason(err)
		t.SetStatus(router.ConnStatus{State: router.StateFailed, Reason: reason})
		c.logger.WithError(err).WithField("target", t.Name).Warn("Connect failed")
		return false, nil
	}
	if resp.IsError() {
		reason := http.StatusText(resp.StatusCode())
		if resp.StatusCode() == http.StatusUnauthorized {
			reason = "Invalid credentials"
		}
		t.SetStatus(router.ConnStatus{State: router.StateFailed, Reason: reason})
		c.logger.WithFields(logrus.Fields{
			"target": t.Name,
			"status": resp.StatusCode(),
		}).Warn("Connect rejected")
		return false, nil
	}

	info := t.SystemInfo()
	info.Identity = identity.Name
	t.SetSystemInfo(info)
	t.SetStatus(router.ConnStatus{State: router.StateConnected})
	c.logger.WithField("target", t.Name).Info("Connected")
	return true, nil
}

// Disconnect marks the target disconnected. The REST API is stateless, so
// there is no session to tear down; idempotent.
func (c *Client) Disconnect(t *router.Target) {
	t.SetStatus(router.ConnStatus{State: router.StateDisconnected})
	c.logger.WithField("target", t.Name).Info("Disconnected")
}

// get performs a GET against the target, decoding into out. Unlike
// Connect, failures here are returned as errors.
func (c *Client) get(ctx context.Context, t *router.Target, path string, out any) error {
	resp, err := c.request(ctx, t).SetResult(out).Get(c.url(t, path))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("GET %s: %s", path, resp.Status())
	}
	return nil
}

type systemResourceDTO struct {
	BoardName   string `json:"board-name"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	CPULoad     string `json:"cpu-load"`
	FreeMemory  string `json:"free-memory"`
	TotalMemory string `json:"total-memory"`
}

// FetchSystemInfo reads /rest/system/resource into the target.
func (c *Client) FetchSystemInfo(ctx context.Context, t *router.Target) error {
	var dto systemResourceDTO
	if err := c.get(ctx, t, "system/resource", &dto); err != nil {
		return err
	}

	info := t.SystemInfo() // keep identity from Connect
	info.BoardName = dto.BoardName
	info.Version = dto.Version
	info.Uptime = dto.Uptime
	info.CPULoad, _ = strconv.Atoi(dto.CPULoad)
	info.FreeMemory, _ = strconv.ParseUint(dto.FreeMemory, 10, 64)
	info.TotalMemory, _ = strconv.ParseUint(dto.TotalMemory, 10, 64)
	t.SetSystemInfo(info)
	return nil
}

type interfaceDTO struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	MACAddress string `json:"mac-address"`
	Running    string `json:"running"`
	Disabled   string `json:"disabled"`
	RxByte     string `json:"rx-byte"`
	TxByte     string `json:"tx-byte"`
}

// FetchInterfaces reads /rest/interface into the target.
func (c *Client) FetchInterfaces(ctx context.Context, t *router.Target) error {
	var dtos []interfaceDTO
	if err := c.get(ctx, t, "interface", &dtos); err != nil {
		return err
	}

	ifaces := make([]router.Interface, 0, len(dtos))
	for _, d := range dtos {
		iface := router.Interface{
			Name:       d.Name,
			Type:       d.Type,
			MACAddress: d.MACAddress,
			Running:    d.Running == "true",
			Disabled:   d.Disabled == "true",
		}
		iface.RxBytes, _ = strconv.ParseUint(d.RxByte, 10, 64)
		iface.TxBytes, _ = strconv.ParseUint(d.TxByte, 10, 64)
		ifaces = append(ifaces, iface)
	}
	t.SetInterfaces(ifaces)
	return nil
}

type leaseDTO struct {
	Address    string `json:"address"`
	MACAddress string `json:"mac-address"`
	HostName   string `json:"host-name"`
	Server     string `json:"server"`
	Dynamic    string `json:"dynamic"`
	ExpiresIn  string `json:"expires-after"`
}

// FetchDHCPLeases reads /rest/ip/dhcp-server/lease into the target.
func (c *Client) FetchDHCPLeases(ctx context.Context, t *router.Target) error {
	var dtos []leaseDTO
	if err := c.get(ctx, t, "ip/dhcp-server/lease", &dtos); err != nil {
		return err
	}

	leases := make([]router.DHCPLease, 0, len(dtos))
	for _, d := range dtos {
		leases = append(leases, router.DHCPLease{
			Address:    d.Address,
			MACAddress: d.MACAddress,
			Hostname:   d.HostName,
			Server:     d.Server,
			Dynamic:    d.Dynamic == "true",
			ExpiresIn:  d.ExpiresIn,
		})
	}
	t.SetLeases(leases)
	return nil
}

type logEntryDTO struct {
	Time    string `json:"time"`
	Topics  string `json:"topics"`
	Message string `json:"message"`
}

// FetchLogEntries reads /rest/log and keeps the most recent count entries.
func (c *Client) FetchLogEntries(ctx context.Context, t *router.Target, count int) error {
	var dtos []logEntryDTO
	if err := c.get(ctx, t, "log", &dtos); err != nil {
		return err
	}

	if count > 0 && len(dtos) > count {
		dtos = dtos[len(dtos)-count:]
	}
	entries := make([]router.LogEntry, 0, len(dtos))
	for _, d := range dtos {
		entries = append(entries, router.LogEntry{
			Time:    d.Time,
			Topics:  d.Topics,
			Message: d.Message,
		})
	}
	t.SetLogEntries(entries)
	return nil
}
