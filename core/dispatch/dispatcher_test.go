package dispatch_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"melodex/core/dispatch"
	"melodex/core/events"
	"melodex/core/records"
	"melodex/core/types"
	"melodex/native/contest"
	"melodex/native/delegation"
	"melodex/native/devapp"
	"melodex/native/email"
	"melodex/native/playlist"
	"melodex/native/replicaset"
	"melodex/native/social"
	"melodex/observability"
	"melodex/registry"
	"melodex/storage"
)

type captureSink struct {
	dispatched []events.Event
}

func (s *captureSink) Dispatch(ev events.Event) {
	s.dispatched = append(s.dispatched, ev)
}

type engine struct {
	dispatcher *dispatch.Dispatcher
	store      *storage.Store
	sink       *captureSink
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewWithDB(context.Background(), db, logger)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}

	handlers := dispatch.NewRegistry()
	playlist.Register(handlers)
	social.Register(handlers)
	devapp.Register(handlers)
	delegation.Register(handlers)
	replicaset.Register(handlers)
	contest.Register(handlers)
	email.Register(handlers)

	sink := &captureSink{}
	nodes := registry.NewCache(&registry.StaticClient{Nodes: map[uint64]registry.Node{
		1: {ID: 1, Endpoint: "https://cn1.example.com", DelegateOwnerWallet: "0xnode1"},
		2: {ID: 2, Endpoint: "https://cn2.example.com", DelegateOwnerWallet: "0xnode2"},
	}}, time.Minute, logger)

	return &engine{
		dispatcher: dispatch.New(dispatch.Config{
			Store:    store,
			Registry: handlers,
			Sink:     sink,
			Nodes:    nodes,
			Logger:   logger,
			Metrics:  observability.NewEngineMetrics(prometheus.NewRegistry()),
		}),
		store: store,
		sink:  sink,
	}
}

func seedUser(t *testing.T, e *engine, id uint64, wallet string) {
	t.Helper()
	ref := types.BlockRef{Number: 1, Hash: "0xgenesis", Time: time.Unix(1_699_000_000, 0).UTC()}
	user := &records.User{
		UserID:     id,
		Handle:     fmt.Sprintf("user%d", id),
		Wallet:     wallet,
		RecordBase: records.StampedBase(ref, fmt.Sprintf("0xseed%d", id)),
	}
	if err := e.store.InsertCurrent(context.Background(), user); err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
}

func block(n uint64, txs ...types.Transaction) *types.Block {
	return &types.Block{
		Number: n,
		Hash:   fmt.Sprintf("0xblock%d", n),
		Time:   time.Unix(1_700_000_000+int64(n), 0).UTC(),
		Txs:    txs,
	}
}

func tx(hash string, evs ...types.EntityEvent) types.Transaction {
	return types.Transaction{Hash: hash, Events: evs}
}

func TestApplyBlockChainsVersionsWithinBlock(t *testing.T) {
	e := newEngine(t)
	seedUser(t, e, 7, "0xowner")

	create := types.EntityEvent{
		UserID:   7,
		Kind:     types.KindPlaylist,
		Action:   types.ActionCreate,
		EntityID: 400001,
		Metadata: `{"playlist_name":"First"}`,
		Signer:   "0xowner",
	}
	update := create
	update.Action = types.ActionUpdate
	update.Metadata = `{"playlist_name":"Second"}`

	res, err := e.dispatcher.ApplyBlock(context.Background(),
		block(10, tx("0xt1", create), tx("0xt2", update)))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Mutations != 2 {
		t.Fatalf("%d mutations, want 2", res.Mutations)
	}
	if keys := res.ChangedKeys[types.KindPlaylist]; len(keys) != 1 || keys[0] != "400001" {
		t.Fatalf("changed keys %v", res.ChangedKeys)
	}

	// The update must have observed the in-block create.
	current, found, err := e.store.CurrentVersion(context.Background(), &records.Playlist{PlaylistID: 400001})
	if err != nil || !found {
		t.Fatalf("current: %v, found=%v", err, found)
	}
	if got := current.(*records.Playlist).Name; got != "Second" {
		t.Fatalf("current name %q, want the chained update", got)
	}

	var count int64
	if err := e.store.DB().Model(&records.Playlist{}).Where("playlist_id = ?", 400001).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("%d stored versions, want full chain", count)
	}
}

func TestApplyBlockIsolatesFailingEvents(t *testing.T) {
	e := newEngine(t)
	seedUser(t, e, 7, "0xowner")
	seedUser(t, e, 8, "0xother")

	bad := types.EntityEvent{
		UserID:   7,
		Kind:     types.KindPlaylist,
		Action:   types.ActionCreate,
		EntityID: 99, // below the id offset
		Metadata: `{"playlist_name":"Rejected"}`,
		Signer:   "0xowner",
	}
	good := types.EntityEvent{
		UserID: 7,
		Kind:   types.KindFollow,
		Action: types.ActionCreate, TargetID: 8,
		Signer: "0xowner",
	}

	res, err := e.dispatcher.ApplyBlock(context.Background(), block(10, tx("0xt1", bad, good)))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Mutations != 1 {
		t.Fatalf("%d mutations, want the surviving event only", res.Mutations)
	}
	_, found, err := e.store.CurrentVersion(context.Background(), &records.Follow{FollowerID: 7, FolloweeID: 8})
	if err != nil || !found {
		t.Fatalf("follow after partial block: %v, found=%v", err, found)
	}
}

func TestApplyBlockSkipsUnhandledKind(t *testing.T) {
	e := newEngine(t)
	seedUser(t, e, 7, "0xowner")

	// Track writes live outside this engine; the event is skipped whole.
	ev := types.EntityEvent{UserID: 7, Kind: types.KindTrack, Action: types.ActionCreate, EntityID: 5, Signer: "0xowner"}
	res, err := e.dispatcher.ApplyBlock(context.Background(), block(10, tx("0xt1", ev)))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Mutations != 0 {
		t.Fatalf("unhandled kind produced %d mutations", res.Mutations)
	}
}

func TestApplyBlockIsIdempotent(t *testing.T) {
	e := newEngine(t)
	seedUser(t, e, 7, "0xowner")
	seedUser(t, e, 8, "0xother")

	follow := types.EntityEvent{UserID: 7, Kind: types.KindFollow, Action: types.ActionCreate, TargetID: 8, Signer: "0xowner"}
	blk := block(10, tx("0xt1", follow))

	if _, err := e.dispatcher.ApplyBlock(context.Background(), blk); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if _, err := e.dispatcher.ApplyBlock(context.Background(), blk); err != nil {
		t.Fatalf("replay: %v", err)
	}

	var count int64
	if err := e.store.DB().Model(&records.Follow{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("replay produced %d rows, want 1", count)
	}
	var currentCount int64
	if err := e.store.DB().Model(&records.Follow{}).Where("is_current = ?", true).Count(&currentCount).Error; err != nil {
		t.Fatalf("count current: %v", err)
	}
	if currentCount != 1 {
		t.Fatalf("%d current rows after replay", currentCount)
	}
}

func TestToggleAcrossBlocksKeepsHistory(t *testing.T) {
	e := newEngine(t)
	seedUser(t, e, 7, "0xowner")
	seedUser(t, e, 8, "0xother")

	follow := types.EntityEvent{UserID: 7, Kind: types.KindFollow, Action: types.ActionCreate, TargetID: 8, Signer: "0xowner"}
	unfollow := follow
	unfollow.Action = types.ActionDelete

	if _, err := e.dispatcher.ApplyBlock(context.Background(), block(10, tx("0xt1", follow))); err != nil {
		t.Fatalf("follow block: %v", err)
	}
	if _, err := e.dispatcher.ApplyBlock(context.Background(), block(11, tx("0xt2", unfollow))); err != nil {
		t.Fatalf("unfollow block: %v", err)
	}

	current, found, err := e.store.CurrentVersion(context.Background(), &records.Follow{FollowerID: 7, FolloweeID: 8})
	if err != nil || !found {
		t.Fatalf("current: %v, found=%v", err, found)
	}
	if !current.Base().IsDelete {
		t.Fatal("current row is not the unfollow version")
	}
	var count int64
	if err := e.store.DB().Model(&records.Follow{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("%d rows, want follow and unfollow versions", count)
	}

	// A third identical unfollow is a no-op block.
	res, err := e.dispatcher.ApplyBlock(context.Background(), block(12, tx("0xt3", unfollow)))
	if err != nil {
		t.Fatalf("repeat unfollow block: %v", err)
	}
	if res.Mutations != 0 {
		t.Fatalf("repeat unfollow produced %d mutations", res.Mutations)
	}
}

func TestSideEffectsFlushAfterCommit(t *testing.T) {
	e := newEngine(t)
	seedUser(t, e, 7, "0xowner")
	seedUser(t, e, 8, "0xother")

	follow := types.EntityEvent{UserID: 7, Kind: types.KindFollow, Action: types.ActionCreate, TargetID: 8, Signer: "0xowner"}
	res, err := e.dispatcher.ApplyBlock(context.Background(), block(10, tx("0xt1", follow)))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.SideEffects != 1 || len(e.sink.dispatched) != 1 {
		t.Fatalf("side effects %d (sink %d), want 1", res.SideEffects, len(e.sink.dispatched))
	}
	ev := e.sink.dispatched[0]
	if ev.Type != events.TypeFollow || ev.UserID != 7 || ev.BlockNumber != 10 {
		t.Fatalf("unexpected side effect %+v", ev)
	}
	if ev.Payload["followee_user_id"] != "8" {
		t.Fatalf("payload %v", ev.Payload)
	}
}

func TestRejectedEventEmitsNoSideEffect(t *testing.T) {
	e := newEngine(t)
	seedUser(t, e, 7, "0xowner")

	// Target user missing: validation rejects, nothing may leak to the sink.
	follow := types.EntityEvent{UserID: 7, Kind: types.KindFollow, Action: types.ActionCreate, TargetID: 99, Signer: "0xowner"}
	res, err := e.dispatcher.ApplyBlock(context.Background(), block(10, tx("0xt1", follow)))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.SideEffects != 0 || len(e.sink.dispatched) != 0 {
		t.Fatal("rejected event leaked a side effect")
	}
}

// incompleteHandler emits a notification and then hands back a record that
// cannot pass the pool's completeness gate.
type incompleteHandler struct{}

func (incompleteHandler) Validate(*dispatch.Context) error { return nil }

func (incompleteHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	ctx.Bus.Emit(events.FollowEvent(events.TypeFollow, ctx.Block.Number, ctx.Block.Time, ctx.Event.UserID, 99))
	return &records.User{UserID: ctx.Event.UserID}, nil
}

func TestSchemaRejectedRecordEmitsNoSideEffect(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewWithDB(context.Background(), db, logger)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	handlers := dispatch.NewRegistry()
	handlers.Register(types.KindUser, types.ActionUpdate, incompleteHandler{})
	sink := &captureSink{}
	d := dispatch.New(dispatch.Config{
		Store:    store,
		Registry: handlers,
		Sink:     sink,
		Logger:   logger,
		Metrics:  observability.NewEngineMetrics(prometheus.NewRegistry()),
	})

	ev := types.EntityEvent{UserID: 7, Kind: types.KindUser, Action: types.ActionUpdate, Signer: "0xowner"}
	res, err := d.ApplyBlock(context.Background(), block(10, tx("0xt1", ev)))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Mutations != 0 {
		t.Fatalf("%d mutations from a rejected record", res.Mutations)
	}
	if res.SideEffects != 0 || len(sink.dispatched) != 0 {
		t.Fatal("rejected record leaked its side effect")
	}
}

func TestMetadataIndirectionThroughResolvedTable(t *testing.T) {
	e := newEngine(t)
	seedUser(t, e, 7, "0xowner")

	blk := block(10, tx("0xt1", types.EntityEvent{
		UserID:   7,
		Kind:     types.KindPlaylist,
		Action:   types.ActionCreate,
		EntityID: 400001,
		Metadata: "QmPlaylistPayload",
		Signer:   "0xowner",
	}))
	blk.Resolved = map[string]string{
		"QmPlaylistPayload": `{"playlist_name":"From CID"}`,
	}

	res, err := e.dispatcher.ApplyBlock(context.Background(), blk)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Mutations != 1 {
		t.Fatalf("%d mutations", res.Mutations)
	}
	current, found, err := e.store.CurrentVersion(context.Background(), &records.Playlist{PlaylistID: 400001})
	if err != nil || !found {
		t.Fatalf("current: %v, found=%v", err, found)
	}
	if current.(*records.Playlist).Name != "From CID" {
		t.Fatal("resolved payload not applied")
	}
}

func TestDelegationLifecycleAcrossBlocks(t *testing.T) {
	e := newEngine(t)
	seedUser(t, e, 5, "0xowner")
	seedUser(t, e, 6, "0xdelegate")

	grant := types.EntityEvent{
		UserID:   5,
		Kind:     types.KindDelegation,
		Action:   types.ActionCreate,
		Metadata: `{"shared_address":"0xdelegate"}`,
		Signer:   "0xowner",
	}
	if _, err := e.dispatcher.ApplyBlock(context.Background(), block(10, tx("0xt1", grant))); err != nil {
		t.Fatalf("grant block: %v", err)
	}

	// The delegate itself signs the revocation.
	revoke := grant
	revoke.Action = types.ActionDelete
	revoke.Signer = "0xDELEGATE"
	if _, err := e.dispatcher.ApplyBlock(context.Background(), block(11, tx("0xt2", revoke))); err != nil {
		t.Fatalf("revoke block: %v", err)
	}

	current, found, err := e.store.CurrentVersion(context.Background(),
		&records.Delegation{UserID: 5, SharedAddress: "0xdelegate"})
	if err != nil || !found {
		t.Fatalf("current: %v, found=%v", err, found)
	}
	if !current.(*records.Delegation).IsRevoked {
		t.Fatal("revocation did not become current")
	}
}

func TestReplicaSetUpdateThroughDispatcher(t *testing.T) {
	e := newEngine(t)
	ref := types.BlockRef{Number: 1, Hash: "0xgenesis", Time: time.Unix(1_699_000_000, 0).UTC()}
	user := &records.User{
		UserID:       5,
		Handle:       "user5",
		Wallet:       "0xowner",
		PrimaryID:    1,
		SecondaryIDs: records.IDList{2},
		RecordBase:   records.StampedBase(ref, "0xseed5"),
	}
	if err := e.store.InsertCurrent(context.Background(), user); err != nil {
		t.Fatalf("seed: %v", err)
	}

	update := types.EntityEvent{
		UserID:   5,
		Kind:     types.KindReplicaSet,
		Action:   types.ActionUpdate,
		Metadata: `{"primary_id":2,"secondary_ids":[1],"prev_primary_id":1,"prev_secondary_ids":[2]}`,
		Signer:   "0xowner",
	}
	if _, err := e.dispatcher.ApplyBlock(context.Background(), block(10, tx("0xt1", update))); err != nil {
		t.Fatalf("apply: %v", err)
	}

	current, found, err := e.store.CurrentVersion(context.Background(), &records.User{UserID: 5})
	if err != nil || !found {
		t.Fatalf("current: %v, found=%v", err, found)
	}
	moved := current.(*records.User)
	if moved.PrimaryID != 2 || !moved.SecondaryIDs.Equal(records.IDList{1}) {
		t.Fatalf("replica set %+v", moved)
	}
	want := "https://cn2.example.com,https://cn1.example.com"
	if moved.CreatorNodeEndpoint != want {
		t.Fatalf("endpoints %q, want %q", moved.CreatorNodeEndpoint, want)
	}
}
