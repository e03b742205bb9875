package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/njoerd114/straysync/internal/model"
	"github.com/njoerd114/straysync/internal/retry"
	"github.com/njoerd114/straysync/internal/store"
)

// ---------------------------------------------------------------------------
// Upsert / push
// ---------------------------------------------------------------------------

func TestUpsert_PushesDocumentAndPhoto(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	r := draft(model.KindStrayAnimal)
	r.Photo = model.LocalPhoto(writePhoto(t, "png-bytes"))
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	doc, ok := f.docs.get("stray_animal_reports", r.UniqueID)
	if !ok {
		t.Fatal("document not written")
	}
	if !doc.HasPhoto || doc.Type != "Dog" {
		t.Errorf("doc = %+v", doc)
	}
	if data, ok := f.blobs.get("stray_animal_images/" + r.UniqueID); !ok || string(data) != "png-bytes" {
		t.Errorf("blob = %q, %v", data, ok)
	}
	if got := mustGet(t, repo, r.UniqueID); !got.Uploaded {
		t.Error("local row not marked uploaded")
	}
}

func TestUpsert_LostPetPhotoKeyedByUniqueID(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindLostPet)

	r := draft(model.KindLostPet)
	r.Photo = model.LocalPhoto(writePhoto(t, "x"))
	if err := repo.Upsert(context.Background(), r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, ok := f.blobs.get("lost_pet_images/" + r.UniqueID); !ok {
		t.Error("lost-pet photo not keyed by unique id")
	}
	if f.blobs.count() != 1 {
		t.Errorf("blobs = %d, want 1", f.blobs.count())
	}
}

func TestUpsert_IdempotentRePush(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	r := draft(model.KindStrayAnimal)
	r.Photo = model.LocalPhoto(writePhoto(t, "v1"))
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	first, _ := f.docs.get("stray_animal_reports", r.UniqueID)

	// Push the same report again.
	r.Uploaded = false
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	if n := f.docs.count("stray_animal_reports"); n != 1 {
		t.Errorf("documents = %d, want 1", n)
	}
	if n := f.blobs.count(); n != 1 {
		t.Errorf("blobs = %d, want 1", n)
	}
	second, _ := f.docs.get("stray_animal_reports", r.UniqueID)
	if first != second {
		t.Errorf("document changed on re-push:\n%+v\n%+v", first, second)
	}
	all, _ := repo.List(ctx, store.OrderNone)
	if len(all) != 1 {
		t.Errorf("local rows = %d, want 1", len(all))
	}
}

func TestUpsert_RemoteFailureKeepsPendingAndRetriesLater(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	f.blobs.failUpload = 1

	a := draft(model.KindStrayAnimal)
	a.Photo = model.LocalPhoto(writePhoto(t, "a"))
	if err := repo.Upsert(ctx, a); err != nil {
		t.Fatalf("Upsert must not fail on remote error: %v", err)
	}
	if got := mustGet(t, repo, a.UniqueID); got.Uploaded {
		t.Fatal("report marked uploaded although its photo upload failed")
	}

	// The next write flushes every pending row.
	b := draft(model.KindStrayAnimal)
	if err := repo.Upsert(ctx, b); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	for _, uid := range []string{a.UniqueID, b.UniqueID} {
		if got := mustGet(t, repo, uid); !got.Uploaded {
			t.Errorf("report %s still pending after retry", uid)
		}
	}
	if _, ok := f.blobs.get(model.KindStrayAnimal.BlobKey(a.UniqueID)); !ok {
		t.Error("photo of retried report missing remotely")
	}
}

func TestUpsert_RetriesWithinPolicy(t *testing.T) {
	f := newFixture(t)
	repo := f.repoWithPolicy(model.KindStrayAnimal, retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	f.docs.failPut = 2

	r := draft(model.KindStrayAnimal)
	if err := repo.Upsert(context.Background(), r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got := mustGet(t, repo, r.UniqueID); !got.Uploaded {
		t.Error("report pending although the third attempt succeeded")
	}
	if f.docs.puts != 3 {
		t.Errorf("Put calls = %d, want 3", f.docs.puts)
	}
}

func TestUpsert_DocumentFailureSkipsPhoto(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	f.docs.failPut = 1

	r := draft(model.KindStrayAnimal)
	r.Photo = model.LocalPhoto(writePhoto(t, "a"))
	if err := repo.Upsert(context.Background(), r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if f.blobs.uploads != 0 {
		t.Errorf("uploads = %d, want 0 after document failure", f.blobs.uploads)
	}
}

func TestUpsert_MissingPhotoFilePushesWithoutPhoto(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)

	r := draft(model.KindStrayAnimal)
	r.Photo = model.LocalPhoto("/does/not/exist.png")
	if err := repo.Upsert(context.Background(), r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	doc, ok := f.docs.get("stray_animal_reports", r.UniqueID)
	if !ok {
		t.Fatal("document not written")
	}
	if doc.HasPhoto {
		t.Error("HasPhoto = true for missing file")
	}
	if got := mustGet(t, repo, r.UniqueID); !got.Uploaded {
		t.Error("report should be uploaded without its photo")
	}
}

func TestUpsert_ConcurrentCallsPushEachRowOnce(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	const n = 8
	reports := make([]*model.Report, n)
	for i := range reports {
		reports[i] = draft(model.KindStrayAnimal)
		reports[i].Photo = model.LocalPhoto(writePhoto(t, fmt.Sprintf("photo-%d", i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, r := range reports {
		wg.Add(1)
		go func(r *model.Report) {
			defer wg.Done()
			errs <- repo.Upsert(ctx, r)
		}(r)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	f.blobs.mu.Lock()
	uploads := f.blobs.uploads
	f.blobs.mu.Unlock()
	if uploads != n {
		t.Errorf("uploads = %d, want %d", uploads, n)
	}
	if f.blobs.count() != n {
		t.Errorf("blobs = %d, want %d", f.blobs.count(), n)
	}
	for _, r := range reports {
		if got := mustGet(t, repo, r.UniqueID); !got.Uploaded {
			t.Errorf("report %s still pending", r.UniqueID)
		}
	}
}

func TestUpsert_UppercasesMicrochip(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindLostPet)
	ctx := context.Background()

	r := draft(model.KindLostPet)
	r.MicrochipID = "ab12"
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got := mustGet(t, repo, r.UniqueID)
	if got.MicrochipID != "AB12" {
		t.Errorf("local MicrochipID = %q, want AB12", got.MicrochipID)
	}
	doc, _ := f.docs.get("lost_pet_reports", r.UniqueID)
	if doc.MicrochipID != "AB12" {
		t.Errorf("remote MicrochipID = %q, want AB12", doc.MicrochipID)
	}
	byChip, err := repo.GetByMicrochipID(ctx, "ab12")
	if err != nil || byChip == nil || byChip.UniqueID != r.UniqueID {
		t.Errorf("GetByMicrochipID(ab12) = %+v, %v", byChip, err)
	}
}

func TestUpsert_RejectsOtherKind(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	err := repo.Upsert(context.Background(), draft(model.KindLostPet))
	if !errors.Is(err, model.ErrInvalidReport) {
		t.Errorf("err = %v, want ErrInvalidReport", err)
	}
}

func TestUpsert_UploadedRowSkipsPush(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)

	r := draft(model.KindStrayAnimal)
	r.Uploaded = true
	if err := repo.Upsert(context.Background(), r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if f.docs.puts != 0 {
		t.Errorf("Put calls = %d, want 0", f.docs.puts)
	}
}

// ---------------------------------------------------------------------------
// Create / Edit
// ---------------------------------------------------------------------------

func TestCreate_StampsIdentity(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindLostPet)
	fixed := time.Date(2025, 5, 4, 10, 0, 0, 0, time.Local)
	repo.now = func() time.Time { return fixed }

	d := &model.Report{Type: "Cat", Name: "Tom", Colour: "Grey", Appearance: "Fluffy", Location: "Elm St", MicrochipID: "zz9"}
	got, err := repo.Create(context.Background(), d, "owner-7")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.UniqueID == "" || got.ID == 0 {
		t.Errorf("ids not stamped: %+v", got)
	}
	if got.UserID != "owner-7" || !got.ReportedAt.Equal(fixed) {
		t.Errorf("owner/time = %q/%v", got.UserID, got.ReportedAt)
	}
	if got.MicrochipID != "ZZ9" {
		t.Errorf("MicrochipID = %q, want ZZ9", got.MicrochipID)
	}
	if _, ok := f.docs.get("lost_pet_reports", got.UniqueID); !ok {
		t.Error("created report not pushed")
	}
}

func TestCreate_Invalid(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindLostPet)

	_, err := repo.Create(context.Background(), &model.Report{Type: "Cat"}, "u")
	if !errors.Is(err, model.ErrInvalidReport) {
		t.Fatalf("err = %v, want ErrInvalidReport", err)
	}
	all, _ := repo.List(context.Background(), store.OrderNone)
	if len(all) != 0 {
		t.Errorf("invalid report stored: %d rows", len(all))
	}
}

func TestEdit_ResetsUploadedAndPushes(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	r := draft(model.KindStrayAnimal)
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	edited := *mustGet(t, repo, r.UniqueID)
	edited.Colour = "Black"
	f.docs.failPut = 1
	if err := repo.Edit(ctx, &edited); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got := mustGet(t, repo, r.UniqueID); got.Uploaded || got.Colour != "Black" {
		t.Errorf("after failed push: %+v", got)
	}

	if _, err := repo.FlushPending(ctx); err != nil {
		t.Fatalf("FlushPending: %v", err)
	}
	doc, _ := f.docs.get("stray_animal_reports", r.UniqueID)
	if doc.Colour != "Black" {
		t.Errorf("remote colour = %q, want Black", doc.Colour)
	}
}

func TestEdit_KeepsReportTimeAndOwner(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	r := draft(model.KindStrayAnimal)
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	orig := mustGet(t, repo, r.UniqueID)

	edited := *orig
	edited.Colour = "Grey"
	edited.ReportedAt = time.Date(2030, 1, 1, 0, 0, 0, 0, time.Local)
	edited.UserID = "someone-else"
	if err := repo.Edit(ctx, &edited); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	got := mustGet(t, repo, r.UniqueID)
	if got.Colour != "Grey" {
		t.Errorf("Colour = %q, want Grey", got.Colour)
	}
	if !got.ReportedAt.Equal(orig.ReportedAt) {
		t.Errorf("ReportedAt = %v, want %v", got.ReportedAt, orig.ReportedAt)
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", got.UserID)
	}

	doc, _ := f.docs.get("stray_animal_reports", r.UniqueID)
	if doc.ReportDateTime != model.FormatLocalDateTime(orig.ReportedAt) {
		t.Errorf("remote reportDateTime = %q", doc.ReportDateTime)
	}
	if doc.MadeByUserID != "user-1" {
		t.Errorf("remote owner = %q, want user-1", doc.MadeByUserID)
	}
}

func TestEdit_Unknown(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	r := draft(model.KindStrayAnimal)
	if err := repo.Edit(context.Background(), r); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestDelete_RemovesEverywhere(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindLostPet)
	ctx := context.Background()

	r := draft(model.KindLostPet)
	r.Photo = model.LocalPhoto(writePhoto(t, "a"))
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Delete(ctx, r); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if got, _ := repo.Get(ctx, r.ID); got != nil {
		t.Error("local row still present")
	}
	if f.docs.count("lost_pet_reports") != 0 {
		t.Error("remote document still present")
	}
	if f.blobs.count() != 0 {
		t.Error("remote photo still present")
	}
}

func TestDelete_IndependentOfRemote(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	r := draft(model.KindStrayAnimal)
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	f.docs.failDelete = 1
	f.blobs.failDelete = 1
	if err := repo.Delete(ctx, r); err != nil {
		t.Fatalf("Delete must not fail on remote error: %v", err)
	}
	if got, _ := repo.Get(ctx, r.ID); got != nil {
		t.Error("local row still present after remote failure")
	}
	if _, ok := f.docs.get("stray_animal_reports", r.UniqueID); !ok {
		t.Error("remote document unexpectedly removed")
	}
}

func TestDelete_NeverPushedReport(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	f.docs.failPut = 1
	r := draft(model.KindStrayAnimal)
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Remote returns not-found for both objects; that is not an error.
	if err := repo.Delete(ctx, r); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := repo.Get(ctx, r.ID); got != nil {
		t.Error("local row still present")
	}
}

// ---------------------------------------------------------------------------
// Pull
// ---------------------------------------------------------------------------

func TestPull_RoundTrip(t *testing.T) {
	f := newFixture(t)
	origin := f.repo(model.KindLostPet)
	ctx := context.Background()

	r := draft(model.KindLostPet)
	r.MicrochipID = "CHIP1"
	r.ContactInfo = "555-0100"
	r.Photo = model.LocalPhoto(writePhoto(t, "photo-data"))
	if err := origin.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// A second device with an empty local store.
	other := newFixture(t)
	other.docs, other.blobs = f.docs, f.blobs
	repo := other.repo(model.KindLostPet)

	stats, err := repo.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if stats.Pulled != 1 || stats.Errors != 0 {
		t.Errorf("stats = %+v", stats)
	}

	got := mustGet(t, repo, r.UniqueID)
	if !got.Uploaded {
		t.Error("pulled report not marked uploaded")
	}
	cmp := *got
	cmp.Photo = r.Photo
	if cmp.ContentHash() != r.ContentHash() {
		t.Errorf("content differs after round trip:\n got %+v\nwant %+v", got, r)
	}
	path, ok := got.Photo.Path()
	if !ok {
		t.Fatal("pulled report has no photo")
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "photo-data" {
		t.Errorf("photo = %q, %v", data, err)
	}
}

func TestPull_KeepsLocalID(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	r := draft(model.KindStrayAnimal)
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	doc, _ := f.docs.get("stray_animal_reports", r.UniqueID)
	doc.Location = "Harbour"
	f.docs.seed("stray_animal_reports", doc)

	if _, err := repo.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	got := mustGet(t, repo, r.UniqueID)
	if got.ID != r.ID {
		t.Errorf("ID = %d, want %d", got.ID, r.ID)
	}
	if got.Location != "Harbour" {
		t.Errorf("Location = %q, want Harbour", got.Location)
	}
}

func TestPull_SkipsPendingLocalEdits(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	r := draft(model.KindStrayAnimal)
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Local edit that fails to push.
	f.docs.failPut = 1
	r.Colour = "Local colour"
	r.Uploaded = false
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	stats, err := repo.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if got := mustGet(t, repo, r.UniqueID); got.Colour != "Local colour" || got.Uploaded {
		t.Errorf("pending edit overwritten: %+v", got)
	}
}

func TestPull_UnchangedIsSkipped(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	if err := repo.Upsert(ctx, draft(model.KindStrayAnimal)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	stats, err := repo.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if stats.Pulled != 0 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want one skip", stats)
	}
}

func TestPull_IsolatesBadDocuments(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)

	good := model.DocumentFromReport(draft(model.KindStrayAnimal))
	bad := model.DocumentFromReport(draft(model.KindStrayAnimal))
	bad.ReportDateTime = "last tuesday"
	f.docs.seed("stray_animal_reports", good, bad)

	stats, err := repo.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if stats.Pulled != 1 || stats.Errors != 1 {
		t.Errorf("stats = %+v, want 1 pulled and 1 error", stats)
	}
	mustGet(t, repo, good.UniqueID)
}

func TestPull_MissingBlobYieldsNoPhoto(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)

	doc := model.DocumentFromReport(draft(model.KindStrayAnimal))
	doc.HasPhoto = true
	f.docs.seed("stray_animal_reports", doc)

	stats, err := repo.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if stats.Pulled != 1 {
		t.Errorf("Pulled = %d, want 1", stats.Pulled)
	}
	if got := mustGet(t, repo, doc.UniqueID); got.Photo.IsSet() {
		t.Errorf("Photo = %v, want none", got.Photo)
	}
}

func TestPull_FailedDownloadKeepsPreviousPhoto(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx := context.Background()

	r := draft(model.KindStrayAnimal)
	doc := model.DocumentFromReport(r)
	doc.HasPhoto = true
	f.docs.seed("stray_animal_reports", doc)
	f.blobs.seed("stray_animal_images/"+r.UniqueID, []byte("png-bytes"))

	if _, err := repo.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	before := mustGet(t, repo, r.UniqueID)
	path, ok := before.Photo.Path()
	if !ok {
		t.Fatal("first pull stored no photo")
	}

	doc.Colour = "Black"
	f.docs.seed("stray_animal_reports", doc)
	f.blobs.mu.Lock()
	f.blobs.failDownload = 1
	f.blobs.mu.Unlock()

	stats, err := repo.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if stats.Pulled != 1 {
		t.Errorf("Pulled = %d, want 1", stats.Pulled)
	}
	after := mustGet(t, repo, r.UniqueID)
	if after.Colour != "Black" {
		t.Errorf("Colour = %q, want Black", after.Colour)
	}
	if got, ok := after.Photo.Path(); !ok || got != path {
		t.Errorf("photo = %v, want %s", after.Photo, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("photo file: %v", err)
	}
}

func TestPull_LegacyNonePhotoPath(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindLostPet)

	doc := model.DocumentFromReport(draft(model.KindLostPet))
	doc.PhotoPath = "none"
	f.docs.seed("lost_pet_reports", doc)

	if _, err := repo.Pull(context.Background()); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if got := mustGet(t, repo, doc.UniqueID); got.Photo.IsSet() {
		t.Errorf("Photo = %v, want none", got.Photo)
	}
}

func TestPull_FetchFailure(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	f.docs.failFetch = 1

	if _, err := repo.Pull(context.Background()); !errors.Is(err, errTransient) {
		t.Errorf("err = %v, want transient failure", err)
	}
}

// ---------------------------------------------------------------------------
// LoadAll / Watch
// ---------------------------------------------------------------------------

func TestLoadAll_EmitsLocalThenPulled(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doc := model.DocumentFromReport(draft(model.KindStrayAnimal))
	f.docs.seed("stray_animal_reports", doc)

	view, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case rows, ok := <-view:
			if !ok {
				t.Fatal("view closed early")
			}
			if len(rows) == 1 && rows[0].UniqueID == doc.UniqueID {
				repo.Wait()
				return
			}
		case <-deadline:
			t.Fatal("pulled report never appeared in the live view")
		}
	}
}

func TestLoadAll_RemoteFailureStillServesLocal(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindStrayAnimal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.docs.failPut = 1
	r := draft(model.KindStrayAnimal)
	if err := repo.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	f.docs.failFetch = 1

	view, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	select {
	case rows := <-view:
		if len(rows) != 1 {
			t.Errorf("rows = %d, want 1", len(rows))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}
	repo.Wait()
}

func TestListByTypeAndName(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(model.KindLostPet)
	ctx := context.Background()

	a := draft(model.KindLostPet)
	b := draft(model.KindLostPet)
	b.Type = "Cat"
	b.Name = "Mittens"
	for _, r := range []*model.Report{a, b} {
		if err := repo.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	cats, err := repo.ListByType(ctx, "Cat")
	if err != nil || len(cats) != 1 || cats[0].UniqueID != b.UniqueID {
		t.Errorf("ListByType = %+v, %v", cats, err)
	}
	rex, err := repo.ListByName(ctx, "Rex")
	if err != nil || len(rex) != 1 || rex[0].UniqueID != a.UniqueID {
		t.Errorf("ListByName = %+v, %v", rex, err)
	}
	byName, err := repo.List(ctx, store.OrderByName)
	if err != nil || len(byName) != 2 || byName[0].Name != "Mittens" {
		t.Errorf("List(name) = %+v, %v", byName, err)
	}
}
