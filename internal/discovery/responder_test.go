package discovery

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResponder_RespondsToLicenseQuery(t *testing.T) {
	r := NewResponder("test-host", 7890, 5432, "db-1", "16", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx, 0))
	defer r.Stop()

	port := r.conn.LocalAddr().(*net.UDPAddr).Port

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte(QueryLicenseServer))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	require.NoError(t, err)

	var reply LicenseReply
	require.NoError(t, json.Unmarshal(buf[:n], &reply))
	require.Equal(t, "license-server", reply.Type)
	require.Equal(t, 7890, reply.Port)
	require.Equal(t, "test-host", reply.Host)
	require.Equal(t, "test-host", reply.Name)
}

func TestResponder_DatabaseQuery_DroppedWhenDiscoveryDisabled(t *testing.T) {
	r := NewResponder("test-host", 7890, 5432, "db-1", "16", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx, 0))
	defer r.Stop()

	port := r.conn.LocalAddr().(*net.UDPAddr).Port

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte(QueryPostgres))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, 2048)
	_, err = client.Read(buf)
	require.Error(t, err)
}

func TestResponder_DatabaseQuery_AnsweredWhenDiscoveryEnabled(t *testing.T) {
	r := NewResponder("test-host", 7890, 5432, "db-1", "16", nil)
	r.EnableDatabaseDiscovery()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx, 0))
	defer r.Stop()

	port := r.conn.LocalAddr().(*net.UDPAddr).Port

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte(QueryPostgres))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	require.NoError(t, err)

	var reply DatabaseReply
	require.NoError(t, json.Unmarshal(buf[:n], &reply))
	require.Equal(t, "postgresql", reply.Type)
	require.Equal(t, "db-1", reply.InstanceID)
	require.Equal(t, "16", reply.Version)
}

func TestResponder_DisableDatabaseDiscovery_StopsAnswering(t *testing.T) {
	r := NewResponder("test-host", 7890, 5432, "db-1", "16", nil)
	r.EnableDatabaseDiscovery()
	r.DisableDatabaseDiscovery()

	_, ok := r.buildReply(QueryPostgres)
	require.False(t, ok)
}

func TestResponder_IgnoresUnknownQuery(t *testing.T) {
	r := NewResponder("test-host", 7890, 5432, "db-1", "16", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx, 0))
	defer r.Stop()

	port := r.conn.LocalAddr().(*net.UDPAddr).Port

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("GARBAGE"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, 2048)
	_, err = client.Read(buf)
	require.Error(t, err)
}

func TestResponder_SetPort_AffectsSubsequentReplies(t *testing.T) {
	r := NewResponder("test-host", 7890, 5432, "db-1", "16", nil)
	r.SetLicensePort(9999)

	reply, ok := r.buildReply(QueryLicenseServer)
	require.True(t, ok)
	require.Equal(t, 9999, reply.(LicenseReply).Port)
}

func TestResponder_Stop_IsIdempotent(t *testing.T) {
	r := NewResponder("test-host", 7890, 5432, "db-1", "16", nil)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx, 0))
	r.Stop()
	r.Stop()
}
