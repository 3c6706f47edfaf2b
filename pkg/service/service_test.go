package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuseq/campuseq-go/pkg/catalog"
	"github.com/campuseq/campuseq-go/pkg/store"
	"github.com/campuseq/campuseq-go/pkg/transport"
	"github.com/campuseq/campuseq-go/pkg/wire"
)

const recvTimeout = 2 * time.Second

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.InsertEquipment(catalog.Device{
		ID: "proj_101", Type: "projector", Location: "room_A",
		Registration: wire.RegistrationRegistered,
		Status:       wire.StatusOffline, Power: wire.PowerOff,
	}))
	require.NoError(t, st.InsertEquipment(catalog.Device{
		ID: "aircon_3", Type: "aircon", Location: "room_B",
		Registration: wire.RegistrationUnregistered,
		Status:       wire.StatusOffline, Power: wire.PowerOff,
	}))
	require.NoError(t, st.InsertUser("admin", "Admin", wire.RoleAdmin, "adminpw"))
	require.NoError(t, st.InsertUser("alice", "Alice", wire.RoleStudent, "alicepw"))
	require.NoError(t, st.InsertPlace("lab_A", "Physics Lab A"))
	require.NoError(t, st.AttachEquipment("lab_A", "proj_101"))
	return st
}

func startTestService(t *testing.T, st *store.Store) *Service {
	t.Helper()
	svc, err := New(Config{Address: "127.0.0.1:0", Store: st})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Stop() })
	return svc
}

func dial(t *testing.T, svc *Service) *transport.ClientConn {
	t.Helper()
	conn, err := transport.NewClient(transport.ClientConfig{}).
		Connect(context.Background(), svc.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// sendRecv sends one body and waits for one reply frame.
func sendRecv(t *testing.T, conn *transport.ClientConn, body string) string {
	t.Helper()
	require.NoError(t, conn.Send([]byte(body)))
	got, err := conn.Receive(recvTimeout)
	require.NoError(t, err)
	return string(got)
}

// equipmentOnline binds a device on a fresh connection.
func equipmentOnline(t *testing.T, svc *Service, deviceID string) *transport.ClientConn {
	t.Helper()
	conn := dial(t, svc)
	got := sendRecv(t, conn, fmt.Sprintf("1|1|%s|room_A|projector", deviceID))
	require.Equal(t, "1|10||success", got)
	return conn
}

// operatorLogin binds a user on a fresh connection.
func operatorLogin(t *testing.T, svc *Service, userID, password string) *transport.ClientConn {
	t.Helper()
	conn := dial(t, svc)
	got := sendRecv(t, conn, fmt.Sprintf("2|9||%s|%s", userID, password))
	require.True(t, strings.HasPrefix(got, "2|19||success|"), got)
	return conn
}

func TestRegisterThenOnline(t *testing.T) {
	svc := startTestService(t, newTestStore(t))

	conn := dial(t, svc)
	got := sendRecv(t, conn, "1|1|proj_101|room_A|projector")
	assert.Equal(t, "1|10||success", got)

	d, ok := svc.Catalog().Get("proj_101")
	require.True(t, ok)
	assert.Equal(t, wire.StatusOnline, d.Status)
}

func TestOnlineRejections(t *testing.T) {
	svc := startTestService(t, newTestStore(t))

	conn := dial(t, svc)
	got := sendRecv(t, conn, "1|1|proj_999|room_A|projector")
	assert.Equal(t, "1|10||fail|unknown_device", got)

	// Unregistered devices may not connect.
	got = sendRecv(t, conn, "1|1|aircon_3|room_B|aircon")
	assert.Equal(t, "1|10||fail|not_registered", got)
}

func TestDuplicateOnline(t *testing.T) {
	svc := startTestService(t, newTestStore(t))

	first := equipmentOnline(t, svc, "proj_101")
	_ = first

	// The second connection is refused and dropped; the first binding
	// is preserved.
	second := dial(t, svc)
	got := sendRecv(t, second, "1|1|proj_101|room_A|projector")
	assert.Equal(t, "1|10||fail|duplicate_online", got)
	_, err := second.Receive(recvTimeout)
	assert.Error(t, err, "loser connection is closed after the reply")

	c, ok := svc.Registry().LookupDevice("proj_101")
	require.True(t, ok)
	d, _ := svc.Catalog().Get("proj_101")
	assert.Equal(t, wire.StatusOnline, d.Status)
	_ = c
}

func TestHeartbeatReply(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	conn := equipmentOnline(t, svc, "proj_101")

	got := sendRecv(t, conn, "1|4|proj_101")
	assert.Equal(t, "4|pong", got)
}

func TestUnboundKindClosesConnection(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	conn := dial(t, svc)

	// status_update before any binding is a protocol violation.
	require.NoError(t, conn.Send([]byte("1|2|proj_101|online|on")))
	_, err := conn.Receive(recvTimeout)
	assert.Error(t, err)
}

func TestStatusUpdate(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	conn := equipmentOnline(t, svc, "proj_101")

	got := sendRecv(t, conn, "1|2|proj_101|online|on")
	assert.Equal(t, "1|2|proj_101|success", got)

	d, _ := svc.Catalog().Get("proj_101")
	assert.Equal(t, wire.StatusOnline, d.Status)
	assert.Equal(t, wire.PowerOn, d.Power)
}

func TestLogin(t *testing.T) {
	svc := startTestService(t, newTestStore(t))

	conn := dial(t, svc)
	got := sendRecv(t, conn, "2|9||admin|adminpw")
	assert.Equal(t, "2|19||success|admin", got)

	bad := dial(t, svc)
	got = sendRecv(t, bad, "2|9||admin|wrong")
	assert.Equal(t, "2|19||fail|invalid_credentials", got)
}

func TestControlRoundTrip(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	eq := equipmentOnline(t, svc, "proj_101")
	op := operatorLogin(t, svc, "admin", "adminpw")

	// Operator requests turn_on; the ack comes back synchronously.
	got := sendRecv(t, op, "2|3|proj_101|1")
	assert.Equal(t, "2|3|proj_101|accepted", got)

	// The device receives the forwarded command.
	fwd, err := eq.Receive(recvTimeout)
	require.NoError(t, err)
	assert.Equal(t, "1|3|proj_101|1", string(fwd))

	// The device's asynchronous result updates power and is fanned out
	// to the operator.
	require.NoError(t, eq.Send([]byte("1|8|proj_101|success|turn_on")))
	push, err := op.Receive(recvTimeout)
	require.NoError(t, err)
	assert.Equal(t, "2|8|proj_101|success|turn_on", string(push))

	d, _ := svc.Catalog().Get("proj_101")
	assert.Equal(t, wire.PowerOn, d.Power)
}

func TestControlWhileOffline(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	op := operatorLogin(t, svc, "admin", "adminpw")

	got := sendRecv(t, op, "2|3|proj_999|1")
	assert.Equal(t, "2|8|proj_999|fail|device_offline", got)
}

func TestStatusQuery(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	equipmentOnline(t, svc, "proj_101")
	op := operatorLogin(t, svc, "admin", "adminpw")

	got := sendRecv(t, op, "2|18|proj_101")
	assert.Equal(t, "2|18|proj_101|online|off", got)

	got = sendRecv(t, op, "2|18|all")
	assert.Contains(t, got, "proj_101|projector|room_A|online|off")
	assert.Contains(t, got, "aircon_3|aircon|room_B|offline|off")
}

func TestReservationFlow(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	op := operatorLogin(t, svc, "admin", "adminpw")

	got := sendRecv(t, op, "2|5|lab_A|alice|2026-09-01 09:00|2026-09-01 11:00|physics lab")
	require.True(t, strings.HasPrefix(got, "2|5|lab_A|success|"), got)
	id := strings.TrimPrefix(got, "2|5|lab_A|success|")

	// Overlapping window is refused.
	got = sendRecv(t, op, "2|5|lab_A|alice|2026-09-01 10:00|2026-09-01 12:00|again")
	assert.Equal(t, "2|5|lab_A|fail|time_conflict", got)

	// Unknown user is refused.
	got = sendRecv(t, op, "2|5|lab_A|nobody|2026-09-02 09:00|2026-09-02 11:00|x")
	assert.Equal(t, "2|5|lab_A|fail|unknown_user", got)

	// The query reply embeds the record with its inner separators.
	got = sendRecv(t, op, "2|6|all")
	assert.Contains(t, got, id+"|lab_A|alice|2026-09-01 09:00|2026-09-01 11:00|pending")

	got = sendRecv(t, op, fmt.Sprintf("2|7|lab_A|%s|approve", id))
	assert.Equal(t, "2|7|lab_A|success", got)

	got = sendRecv(t, op, "2|6|all")
	assert.Contains(t, got, "|approved")
}

func TestApproveRequiresAdmin(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	op := operatorLogin(t, svc, "alice", "alicepw")

	got := sendRecv(t, op, "2|7|lab_A|1|approve")
	assert.Equal(t, "2|7|lab_A|fail|not_admin", got)
}

func TestPlaceListQuery(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	op := operatorLogin(t, svc, "admin", "adminpw")

	got := sendRecv(t, op, "2|11|all")
	assert.Equal(t, "2|11|all|lab_A|Physics Lab A|proj_101", got)
}

func TestPowerReportAndAlarm(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	eq := equipmentOnline(t, svc, "proj_101")
	op := operatorLogin(t, svc, "admin", "adminpw")

	got := sendRecv(t, op, "2|13|proj_101|250")
	require.Equal(t, "2|13|proj_101|success", got)

	// Below threshold: no alert frame, no reply.
	require.NoError(t, eq.Send([]byte("1|16|proj_101|100")))

	// Above threshold: every operator gets an alert.
	require.NoError(t, eq.Send([]byte("1|16|proj_101|320")))
	alert, err := op.Receive(recvTimeout)
	require.NoError(t, err)
	assert.Equal(t, "2|20|proj_101|320|250", string(alert))

	// The alarm is queryable and ackable.
	got = sendRecv(t, op, "2|14|all")
	require.True(t, strings.HasPrefix(got, "2|14|all|1|proj_101|320|250|"), got)

	got = sendRecv(t, op, "2|15||1")
	assert.Equal(t, "2|15|response|success", got)

	got = sendRecv(t, op, "2|15||1")
	assert.Equal(t, "2|15|response|fail|not_found", got)
}

func TestEnergyQuery(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	eq := equipmentOnline(t, svc, "proj_101")
	op := operatorLogin(t, svc, "admin", "adminpw")

	require.NoError(t, eq.Send([]byte("1|16|proj_101|100")))
	require.NoError(t, eq.Send([]byte("1|16|proj_101|200")))

	// Power reports carry no reply; poll until the samples landed.
	require.Eventually(t, func() bool {
		records, err := svc.store.EnergyByHour("proj_101")
		return err == nil && len(records) == 1 && records[0].Samples == 2
	}, recvTimeout, 10*time.Millisecond)

	got := sendRecv(t, op, "2|12|proj_101")
	require.True(t, strings.HasPrefix(got, "2|12|proj_101|proj_101|"), got)
	assert.True(t, strings.HasSuffix(got, "|150|2"), got)
}

func TestSetThresholdRequiresAdmin(t *testing.T) {
	svc := startTestService(t, newTestStore(t))
	op := operatorLogin(t, svc, "alice", "alicepw")

	got := sendRecv(t, op, "2|13|proj_101|250")
	assert.Equal(t, "2|13|proj_101|fail|not_admin", got)
}

func TestOperatorRelogin(t *testing.T) {
	svc := startTestService(t, newTestStore(t))

	first := operatorLogin(t, svc, "admin", "adminpw")
	second := operatorLogin(t, svc, "admin", "adminpw")

	// The displaced session is closed; the new one works.
	_, err := first.Receive(recvTimeout)
	assert.Error(t, err)

	got := sendRecv(t, second, "2|18|proj_101")
	assert.Equal(t, "2|18|proj_101|offline|off", got)
}

func TestIdleTimeout(t *testing.T) {
	st := newTestStore(t)
	svc, err := New(Config{
		Address:          "127.0.0.1:0",
		Store:            st,
		HeartbeatTimeout: 150 * time.Millisecond,
		SweepInterval:    25 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Stop() })

	equipmentOnline(t, svc, "proj_101")

	// The silent connection is reaped and the device goes offline.
	require.Eventually(t, func() bool {
		d, ok := svc.Catalog().Get("proj_101")
		return ok && d.Status == wire.StatusOffline
	}, 2*time.Second, 20*time.Millisecond)

	op := operatorLogin(t, svc, "admin", "adminpw")
	got := sendRecv(t, op, "2|18|proj_101")
	assert.Equal(t, "2|18|proj_101|offline|off", got)
}

func TestShutdownReset(t *testing.T) {
	st := newTestStore(t)
	svc := startTestService(t, st)
	equipmentOnline(t, svc, "proj_101")

	require.NoError(t, svc.Stop())

	devices, err := st.LoadEquipment()
	require.NoError(t, err)
	for _, d := range devices {
		assert.Equal(t, wire.StatusOffline, d.Status, d.ID)
		assert.Equal(t, wire.PowerOff, d.Power, d.ID)
	}
}
