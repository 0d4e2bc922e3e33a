package routerapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/rwatch/internal/router"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *router.Target) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := NewClient(logger)
	c.baseURL = srv.URL

	target := router.NewTarget()
	target.Name = "test"
	target.Username = "admin"
	target.Password = "secret"
	return c, target
}

func respond(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestConnectSuccess(t *testing.T) {
	c, target := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/system/identity", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		respond(t, w, map[string]string{"name": "gateway"})
	}))

	ok, err := c.Connect(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, router.StateConnected, target.Status().State)
	assert.Equal(t, "gateway", target.SystemInfo().Identity)
}

func TestConnectBadCredentials(t *testing.T) {
	c, target := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	ok, err := c.Connect(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, ok)

	status := target.Status()
	assert.Equal(t, router.StateFailed, status.State)
	assert.Equal(t, "Invalid credentials", status.Reason)
	assert.Equal(t, "Invalid credentials", status.Text())
}

func TestConnectUnreachable(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := NewClient(logger)
	c.baseURL = "http://127.0.0.1:1" // nothing listens here

	target := router.NewTarget()
	ok, err := c.Connect(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, router.StateFailed, target.Status().State)
	assert.NotEmpty(t, target.Status().Reason)
}

func TestDisconnectIdempotent(t *testing.T) {
	c, target := testClient(t, http.NotFoundHandler())
	target.SetStatus(router.ConnStatus{State: router.StateConnected})

	c.Disconnect(target)
	assert.Equal(t, router.StateDisconnected, target.Status().State)

	c.Disconnect(target)
	assert.Equal(t, router.StateDisconnected, target.Status().State)
}

func TestFetchSystemInfo(t *testing.T) {
	c, target := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/system/resource", r.URL.Path)
		respond(t, w, map[string]string{
			"board-name":   "RB4011iGS+",
			"version":      "7.14.2",
			"uptime":       "1w2d3h",
			"cpu-load":     "7",
			"free-memory":  "805306368",
			"total-memory": "1073741824",
		})
	}))

	require.NoError(t, c.FetchSystemInfo(context.Background(), target))

	info := target.SystemInfo()
	assert.Equal(t, "RB4011iGS+", info.BoardName)
	assert.Equal(t, "7.14.2", info.Version)
	assert.Equal(t, "1w2d3h", info.Uptime)
	assert.Equal(t, 7, info.CPULoad)
	assert.Equal(t, uint64(805306368), info.FreeMemory)
	assert.Equal(t, uint64(1073741824), info.TotalMemory)
}

func TestFetchInterfaces(t *testing.T) {
	c, target := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/interface", r.URL.Path)
		respond(t, w, []map[string]string{
			{
				"name": "ether1", "type": "ether", "mac-address": "AA:BB:CC:DD:EE:01",
				"running": "true", "disabled": "false",
				"rx-byte": "123456", "tx-byte": "654321",
			},
			{
				"name": "wlan1", "type": "wlan",
				"running": "false", "disabled": "true",
			},
		})
	}))

	require.NoError(t, c.FetchInterfaces(context.Background(), target))

	ifaces := target.Interfaces()
	require.Len(t, ifaces, 2)
	assert.Equal(t, "ether1", ifaces[0].Name)
	assert.True(t, ifaces[0].Running)
	assert.Equal(t, uint64(123456), ifaces[0].RxBytes)
	assert.True(t, ifaces[1].Disabled)
	assert.False(t, ifaces[1].Running)
}

func TestFetchDHCPLeases(t *testing.T) {
	c, target := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/ip/dhcp-server/lease", r.URL.Path)
		respond(t, w, []map[string]string{
			{
				"address": "192.168.88.10", "mac-address": "AA:BB:CC:DD:EE:10",
				"host-name": "laptop", "server": "dhcp1",
				"dynamic": "true", "expires-after": "9m30s",
			},
		})
	}))

	require.NoError(t, c.FetchDHCPLeases(context.Background(), target))

	leases := target.Leases()
	require.Len(t, leases, 1)
	assert.Equal(t, "192.168.88.10", leases[0].Address)
	assert.Equal(t, "laptop", leases[0].Hostname)
	assert.True(t, leases[0].Dynamic)
	assert.Equal(t, "9m30s", leases[0].ExpiresIn)
}

func TestFetchLogEntriesKeepsMostRecent(t *testing.T) {
	entries := make([]map[string]string, 150)
	for i := range entries {
		entries[i] = map[string]string{
			"time":    "10:00:00",
			"topics":  "system,info",
			"message": "entry",
		}
	}
	entries[len(entries)-1]["message"] = "newest"

	c, target := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/log", r.URL.Path)
		respond(t, w, entries)
	}))

	require.NoError(t, c.FetchLogEntries(context.Background(), target, 100))

	got := target.LogEntries()
	require.Len(t, got, 100)
	assert.Equal(t, "newest", got[len(got)-1].Message)
}

func TestFetchErrorPropagates(t *testing.T) {
	c, target := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := c.FetchSystemInfo(context.Background(), target)
	assert.Error(t, err)
	assert.Empty(t, target.SystemInfo().BoardName)
}
