package playlist

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"melodex/core/dispatch"
	"melodex/core/errors"
	"melodex/core/events"
	"melodex/core/pool"
	"melodex/core/records"
	"melodex/core/types"
)

type stubLookup struct{}

func (stubLookup) UserByWallet(context.Context, string) (*records.User, bool, error) {
	return nil, false, nil
}

func (stubLookup) AppByAddress(context.Context, string) (*records.DeveloperApp, bool, error) {
	return nil, false, nil
}

func (stubLookup) DelegationsBySharedAddress(context.Context, string) ([]*records.Delegation, error) {
	return nil, nil
}

func testRef(n uint64) types.BlockRef {
	return types.BlockRef{
		Number: n,
		Hash:   "0xblock",
		Time:   time.Unix(1_700_000_000+int64(n), 0).UTC(),
	}
}

func testContext(t *testing.T, ev types.EntityEvent, metadata string, p *pool.Pool) *dispatch.Context {
	t.Helper()
	return &dispatch.Context{
		Ctx:         context.Background(),
		Block:       testRef(10),
		TxHash:      "0xtx",
		Event:       ev,
		Metadata:    metadata,
		Pool:        p,
		Bus:         events.NewBuffer(),
		Lookup:      stubLookup{},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		ProcessedAt: time.Unix(1_700_000_100, 0).UTC(),
	}
}

func seedOwner(p *pool.Pool, id uint64, wallet string) {
	p.SeedExisting(&records.User{
		UserID:     id,
		Handle:     "owner",
		Wallet:     wallet,
		RecordBase: records.StampedBase(testRef(1), "0xseed"),
	})
}

func TestCreatePlaylist(t *testing.T) {
	p := pool.New()
	seedOwner(p, 7, "0xowner")

	ev := types.EntityEvent{
		UserID:   7,
		Kind:     types.KindPlaylist,
		Action:   types.ActionCreate,
		EntityID: 400123,
		Signer:   "0xOWNER",
	}
	ctx := testContext(t, ev, `{"playlist_name":"Mix","track_ids":[{"track":5,"time":90}]}`, p)

	h := createHandler{}
	if err := h.Validate(ctx); err != nil {
		t.Fatalf("validate: %v", err)
	}
	rec, err := h.Apply(ctx)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	pl := rec.(*records.Playlist)
	if pl.PlaylistID != 400123 || pl.OwnerID != 7 || pl.Name != "Mix" {
		t.Fatalf("unexpected playlist %+v", pl)
	}
	if len(pl.Contents) != 1 || pl.Contents[0].Time != ctx.Block.Time.Unix() {
		t.Fatalf("contents not stamped with block time: %+v", pl.Contents)
	}
}

func TestCreateRejectsIDBelowOffset(t *testing.T) {
	p := pool.New()
	seedOwner(p, 7, "0xowner")

	ev := types.EntityEvent{UserID: 7, EntityID: IDOffset - 1, Signer: "0xowner"}
	ctx := testContext(t, ev, `{"playlist_name":"Mix"}`, p)

	err := createHandler{}.Validate(ctx)
	if !errors.IsValidation(err) {
		t.Fatalf("id below offset: %v", err)
	}
}

func TestCreateRejectsDuplicateButAllowsDeleted(t *testing.T) {
	p := pool.New()
	seedOwner(p, 7, "0xowner")
	existing := &records.Playlist{
		PlaylistID: 400123,
		OwnerID:    7,
		Name:       "Old",
		RecordBase: records.StampedBase(testRef(1), "0xseed"),
	}
	p.SeedExisting(existing)

	ev := types.EntityEvent{UserID: 7, EntityID: 400123, Signer: "0xowner"}
	ctx := testContext(t, ev, `{"playlist_name":"Mix"}`, p)
	if err := (createHandler{}).Validate(ctx); !errors.IsValidation(err) {
		t.Fatalf("live duplicate: %v", err)
	}

	existing.IsDelete = true
	if err := (createHandler{}).Validate(ctx); err != nil {
		t.Fatalf("create over deleted: %v", err)
	}
}

func TestCreateRejectsWrongSigner(t *testing.T) {
	p := pool.New()
	seedOwner(p, 7, "0xowner")

	ev := types.EntityEvent{UserID: 7, EntityID: 400123, Signer: "0xintruder"}
	ctx := testContext(t, ev, `{"playlist_name":"Mix"}`, p)
	if err := (createHandler{}).Validate(ctx); !errors.IsValidation(err) {
		t.Fatalf("foreign signer: %v", err)
	}
}

func TestUpdateRequiresOwnership(t *testing.T) {
	p := pool.New()
	seedOwner(p, 7, "0xowner")
	seedOwner(p, 8, "0xother")
	p.SeedExisting(&records.Playlist{
		PlaylistID: 400123,
		OwnerID:    7,
		Name:       "Mix",
		RecordBase: records.StampedBase(testRef(1), "0xseed"),
	})

	ev := types.EntityEvent{UserID: 8, EntityID: 400123, Signer: "0xother"}
	ctx := testContext(t, ev, `{"playlist_name":"Taken"}`, p)
	if err := (updateHandler{}).Validate(ctx); !errors.IsValidation(err) {
		t.Fatalf("foreign update: %v", err)
	}
}

func TestUpdatePreservesContentTimes(t *testing.T) {
	p := pool.New()
	seedOwner(p, 7, "0xowner")
	prior := &records.Playlist{
		PlaylistID: 400123,
		OwnerID:    7,
		Name:       "Mix",
		Contents: records.PlaylistContents{
			{TrackID: 5, Time: 111, MetadataTime: 90},
			{TrackID: 6, Time: 112, MetadataTime: 91},
		},
		RecordBase: records.StampedBase(testRef(1), "0xseed"),
	}
	p.SeedExisting(prior)

	// Rename and reorder; both (track, time) pairs already exist.
	ev := types.EntityEvent{UserID: 7, EntityID: 400123, Signer: "0xowner"}
	md := `{"playlist_name":"Renamed","track_ids":[{"track":6,"time":91},{"track":5,"time":90},{"track":9,"time":95}]}`
	ctx := testContext(t, ev, md, p)

	h := updateHandler{}
	if err := h.Validate(ctx); err != nil {
		t.Fatalf("validate: %v", err)
	}
	rec, err := h.Apply(ctx)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	pl := rec.(*records.Playlist)
	if pl.Name != "Renamed" {
		t.Fatalf("name not updated: %q", pl.Name)
	}
	if pl.Contents[0].Time != 112 || pl.Contents[1].Time != 111 {
		t.Fatalf("known pairs re-stamped: %+v", pl.Contents)
	}
	if pl.Contents[2].Time != ctx.Block.Time.Unix() {
		t.Fatalf("new pair not stamped with block time: %+v", pl.Contents[2])
	}
	if !pl.CreatedAt.Equal(prior.CreatedAt) {
		t.Fatal("update lost the original creation time")
	}
}

func TestDeleteMarksRecord(t *testing.T) {
	p := pool.New()
	seedOwner(p, 7, "0xowner")
	prior := &records.Playlist{
		PlaylistID: 400123,
		OwnerID:    7,
		Name:       "Mix",
		RecordBase: records.StampedBase(testRef(1), "0xseed"),
	}
	p.SeedExisting(prior)

	ev := types.EntityEvent{UserID: 7, EntityID: 400123, Signer: "0xowner"}
	ctx := testContext(t, ev, "", p)

	h := deleteHandler{}
	if err := h.Validate(ctx); err != nil {
		t.Fatalf("validate: %v", err)
	}
	rec, err := h.Apply(ctx)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !rec.Base().IsDelete {
		t.Fatal("delete version not flagged")
	}
	if !rec.Base().CreatedAt.Equal(prior.CreatedAt) {
		t.Fatal("delete lost the original creation time")
	}

	// Deleting through the pool overlay: a second delete must fail.
	if err := p.Add(rec); err != nil {
		t.Fatalf("pool add: %v", err)
	}
	if err := (deleteHandler{}).Validate(ctx); !errors.IsValidation(err) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestReconcileContentsDistinguishesMetadataTime(t *testing.T) {
	prev := records.PlaylistContents{{TrackID: 5, Time: 111, MetadataTime: 90}}
	blockTime := time.Unix(1_700_000_500, 0).UTC()

	// Same track, different submitter time: treated as a new pair.
	out := reconcileContents(prev, []types.TrackRef{{TrackID: 5, Time: 91}}, blockTime)
	if out[0].Time != blockTime.Unix() {
		t.Fatalf("changed pair kept stale time: %+v", out[0])
	}

	out = reconcileContents(prev, []types.TrackRef{{TrackID: 5, Time: 90}}, blockTime)
	if out[0].Time != 111 {
		t.Fatalf("unchanged pair re-stamped: %+v", out[0])
	}
}
