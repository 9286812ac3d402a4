package records

import (
	"testing"
	"time"

	"melodex/core/errors"
	"melodex/core/types"
)

func stamped() RecordBase {
	return StampedBase(types.BlockRef{
		Number: 10,
		Hash:   "0xblock",
		Time:   time.Unix(1_700_000_000, 0).UTC(),
	}, "0xtx")
}

func TestCheckRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
	}{
		{"user without wallet", &User{UserID: 1, RecordBase: stamped()}},
		{"playlist without owner", &Playlist{PlaylistID: 400001, Name: "x", RecordBase: stamped()}},
		{"playlist without name", &Playlist{PlaylistID: 400001, OwnerID: 1, RecordBase: stamped()}},
		{"follow without followee", &Follow{FollowerID: 1, RecordBase: stamped()}},
		{"save without target kind", &Save{UserID: 1, TargetID: 5, RecordBase: stamped()}},
		{"app without name", &DeveloperApp{Address: "0xapp", OwnerID: 1, RecordBase: stamped()}},
		{"delegation without address", &Delegation{UserID: 1, RecordBase: stamped()}},
		{"email without ciphertext", &EncryptedEmail{OwnerID: 1, ReceiverID: 2, RecordBase: stamped()}},
		{"unstamped base", &Follow{FollowerID: 1, FolloweeID: 2}},
	}
	for _, tc := range cases {
		err := tc.rec.Check()
		if !errors.IsSchema(err) {
			t.Fatalf("%s: %v", tc.name, err)
		}
	}
}

func TestCheckAllowsDeletedNamelessVersions(t *testing.T) {
	pl := &Playlist{PlaylistID: 400001, OwnerID: 1, RecordBase: stamped()}
	pl.IsDelete = true
	if err := pl.Check(); err != nil {
		t.Fatalf("deleted playlist without name: %v", err)
	}

	app := &DeveloperApp{Address: "0xapp", OwnerID: 1, RecordBase: stamped()}
	app.IsDelete = true
	if err := app.Check(); err != nil {
		t.Fatalf("deleted app without name: %v", err)
	}
}

func TestIDListEqual(t *testing.T) {
	if !(IDList{1, 2}).Equal(IDList{1, 2}) {
		t.Fatal("equal lists compared unequal")
	}
	if (IDList{1, 2}).Equal(IDList{2, 1}) {
		t.Fatal("order ignored")
	}
	if (IDList{1}).Equal(IDList{1, 2}) {
		t.Fatal("length ignored")
	}
	if !(IDList(nil)).Equal(IDList{}) {
		t.Fatal("nil and empty should compare equal")
	}
}

func TestKeySerializationAgreesWithModels(t *testing.T) {
	follow := &Follow{FollowerID: 3, FolloweeID: 9, RecordBase: stamped()}
	if follow.Key() != FollowKey(3, 9) {
		t.Fatalf("follow key %q vs %q", follow.Key(), FollowKey(3, 9))
	}
	save := &Save{UserID: 3, TargetKind: types.TargetTrack, TargetID: 50, RecordBase: stamped()}
	if save.Key() != SaveKey(3, types.TargetTrack, 50) {
		t.Fatalf("save key %q", save.Key())
	}
	d := &Delegation{UserID: 3, SharedAddress: "0xabc", RecordBase: stamped()}
	if d.Key() != DelegationKey(3, "0xABC") {
		t.Fatalf("delegation key %q", d.Key())
	}
	app := &DeveloperApp{Address: "0xabc", RecordBase: stamped()}
	if KeyOf(app).Key != AppKey("0xABC") {
		t.Fatalf("app key %q", KeyOf(app).Key)
	}
}
