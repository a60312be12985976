package ledger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dubforge/internal/ledger"
	"dubforge/internal/services"
	"dubforge/internal/testsupport"
)

func seed(t *testing.T, l *ledger.Ledger, job int64, count int) {
	t.Helper()
	turns := make([]ledger.Bounds, count)
	for i := range turns {
		turns[i] = ledger.Bounds{Index: i, Start: float64(i * 3), End: float64(i*3 + 3), Speaker: "SPEAKER_00"}
	}
	if _, err := l.UpsertSegments(context.Background(), job, turns); err != nil {
		t.Fatalf("UpsertSegments: %v", err)
	}
}

func TestUpsertKeepsRecordedBounds(t *testing.T) {
	ctx := context.Background()
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	seed(t, l, 1, 2)

	segs, err := l.UpsertSegments(ctx, 1, []ledger.Bounds{
		{Index: 0, Start: 0.5, End: 2.5, Speaker: "SPEAKER_09"},
		{Index: 2, Start: 6, End: 9, Speaker: "SPEAKER_01"},
	})
	if err != nil {
		t.Fatalf("UpsertSegments: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	if segs[0].Start != 0 || segs[0].End != 3 || segs[0].Speaker != "SPEAKER_00" {
		t.Fatalf("segment 0 bounds changed: %+v", segs[0])
	}
	if segs[2].Speaker != "SPEAKER_01" || segs[2].Window() != 3 {
		t.Fatalf("segment 2 not inserted: %+v", segs[2])
	}

	if _, err := l.UpsertSegments(ctx, 1, []ledger.Bounds{{Index: 5, Start: 4, End: 3}}); !errors.Is(err, services.ErrFatalInput) {
		t.Fatalf("expected inverted bounds to be rejected, got %v", err)
	}
}

func TestEditCreatesMonotonicVersions(t *testing.T) {
	ctx := context.Background()
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	seed(t, l, 1, 1)

	for want := 1; want <= 4; want++ {
		v, err := l.Edit(ctx, 1, 0, "take", "alice")
		if err != nil {
			t.Fatalf("Edit: %v", err)
		}
		if v.Number != want || v.CreatedBy != "alice" || v.HasAudio() {
			t.Fatalf("edit %d produced %+v", want, v)
		}
	}
	history, err := l.History(ctx, 1, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	for i, v := range history {
		if v.Number != i+1 {
			t.Fatalf("history gap at %d: %+v", i, v)
		}
	}
	if cur, _ := l.CurrentVersion(ctx, 1, 0); cur != 4 {
		t.Fatalf("CurrentVersion = %d, want 4", cur)
	}
	if _, err := l.Edit(ctx, 1, 0, "   ", ""); !errors.Is(err, services.ErrFatalInput) {
		t.Fatalf("expected empty edit rejected, got %v", err)
	}
	if _, err := l.Edit(ctx, 1, 42, "x", ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected missing segment, got %v", err)
	}
}

func TestLockBlocksEveryVersionWriter(t *testing.T) {
	ctx := context.Background()
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	seed(t, l, 1, 1)
	v, err := l.Edit(ctx, 1, 0, "approved", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(ctx, 1, 0, v.Number+1); !errors.Is(err, ledger.ErrVersionNotCurrent) {
		t.Fatalf("expected ErrVersionNotCurrent, got %v", err)
	}
	if err := l.Lock(ctx, 1, 0, v.Number); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	synthCalls := 0
	synth := func(context.Context, ledger.Segment, ledger.Version) (ledger.Generated, error) {
		synthCalls++
		return ledger.Generated{AudioPath: "x.wav"}, nil
	}
	if _, err := l.Edit(ctx, 1, 0, "overwrite", ""); !errors.Is(err, services.ErrSegmentLocked) {
		t.Fatalf("Edit on locked: %v", err)
	}
	if _, err := l.Regen(ctx, 1, 0, "", synth); !errors.Is(err, services.ErrSegmentLocked) {
		t.Fatalf("Regen on locked: %v", err)
	}
	if _, err := l.CommitGenerated(ctx, 1, 0, ledger.Generated{Base: v.Number, Text: "x"}); !errors.Is(err, services.ErrSegmentLocked) {
		t.Fatalf("CommitGenerated on locked: %v", err)
	}
	if got, created, err := l.ProposeText(ctx, 1, 0, "machine text"); err != nil || created || got.Number != v.Number {
		t.Fatalf("ProposeText on locked = %+v created=%v err=%v", got, created, err)
	}
	if applied, err := l.SetSourceText(ctx, 1, 0, "new transcript"); err != nil || applied {
		t.Fatalf("SetSourceText on locked applied=%v err=%v", applied, err)
	}
	if synthCalls != 0 {
		t.Fatalf("synth called %d times for locked segment", synthCalls)
	}
	if cur, _ := l.CurrentVersion(ctx, 1, 0); cur != v.Number {
		t.Fatalf("locked version moved to %d", cur)
	}

	if err := l.Unlock(ctx, 1, 0); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if next, err := l.Edit(ctx, 1, 0, "after unlock", ""); err != nil || next.Number != v.Number+1 {
		t.Fatalf("Edit after unlock = %+v, %v", next, err)
	}
}

func TestConcurrentRegenIsRejected(t *testing.T) {
	ctx := context.Background()
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	seed(t, l, 1, 2)
	if _, err := l.Edit(ctx, 1, 0, "hola", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Edit(ctx, 1, 1, "adios", ""); err != nil {
		t.Fatal(err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := func(_ context.Context, seg ledger.Segment, cur ledger.Version) (ledger.Generated, error) {
		close(entered)
		<-release
		return ledger.Generated{Text: cur.Text, AudioPath: "seg0.wav", SynthKey: "k"}, nil
	}

	var (
		wg     sync.WaitGroup
		first  ledger.Version
		regErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, regErr = l.Regen(ctx, 1, 0, "", slow)
	}()
	<-entered

	_, err := l.Regen(ctx, 1, 0, "", func(context.Context, ledger.Segment, ledger.Version) (ledger.Generated, error) {
		t.Error("second regen must not synthesize")
		return ledger.Generated{}, nil
	})
	if !errors.Is(err, services.ErrSegmentBusy) {
		t.Fatalf("expected ErrSegmentBusy, got %v", err)
	}
	if _, err := l.Edit(ctx, 1, 0, "racing edit", ""); !errors.Is(err, services.ErrSegmentBusy) {
		t.Fatalf("expected edit during regen to be busy, got %v", err)
	}
	if _, err := l.Edit(ctx, 1, 1, "other segment", ""); err != nil {
		t.Fatalf("other segment must not block: %v", err)
	}

	close(release)
	wg.Wait()
	if regErr != nil {
		t.Fatalf("first regen: %v", regErr)
	}
	if first.Number != 2 || first.AudioPath != "seg0.wav" || first.Text != "hola" {
		t.Fatalf("unexpected regen version %+v", first)
	}
}

func TestRegenFailureKeepsPriorVersion(t *testing.T) {
	ctx := context.Background()
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	seed(t, l, 1, 1)
	if _, err := l.Edit(ctx, 1, 0, "hola", ""); err != nil {
		t.Fatal(err)
	}
	_, err := l.Regen(ctx, 1, 0, "", func(context.Context, ledger.Segment, ledger.Version) (ledger.Generated, error) {
		return ledger.Generated{}, services.ErrTransient
	})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if cur, _ := l.CurrentVersion(ctx, 1, 0); cur != 1 {
		t.Fatalf("current version = %d, want 1", cur)
	}
}

func TestPipelineHooks(t *testing.T) {
	ctx := context.Background()
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	seed(t, l, 3, 1)

	digest, err := l.StateDigest(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if applied, err := l.SetSourceText(ctx, 3, 0, " hello there "); err != nil || !applied {
		t.Fatalf("SetSourceText applied=%v err=%v", applied, err)
	}
	v1, created, err := l.ProposeText(ctx, 3, 0, "hola")
	if err != nil || !created || v1.Number != 1 || v1.CreatedBy != ledger.ActorPipeline {
		t.Fatalf("ProposeText = %+v created=%v err=%v", v1, created, err)
	}
	if again, created, _ := l.ProposeText(ctx, 3, 0, "hola"); created || again.Number != 1 {
		t.Fatalf("identical proposal must not create a version: %+v", again)
	}
	v2, err := l.CommitGenerated(ctx, 3, 0, ledger.Generated{Base: 1, Text: "hola", AudioPath: "a.wav", SynthKey: "key", Actions: []string{"stretch"}, Stretch: 1.1})
	if err != nil {
		t.Fatalf("CommitGenerated: %v", err)
	}
	if v2.Number != 2 || v2.SynthKey != "key" {
		t.Fatalf("unexpected commit %+v", v2)
	}
	if _, err := l.CommitGenerated(ctx, 3, 0, ledger.Generated{Base: 1, Text: "hola"}); !errors.Is(err, services.ErrSegmentBusy) {
		t.Fatalf("stale base must be rejected, got %v", err)
	}

	seg, cur, err := l.Current(ctx, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if seg.SourceText != "hello there" || seg.TargetText != "hola" || cur.Stretch != 1.1 || len(cur.Actions) != 1 {
		t.Fatalf("unexpected state seg=%+v cur=%+v", seg, cur)
	}
	after, _ := l.StateDigest(ctx, 3)
	if after != digest {
		t.Fatal("pipeline writes must not change the operator state digest")
	}
	if _, err := l.Edit(ctx, 3, 0, "hola amigo", ""); err != nil {
		t.Fatal(err)
	}
	if edited, _ := l.StateDigest(ctx, 3); edited == digest {
		t.Fatal("operator edit must change the state digest")
	}
}

func TestReviewStateSurvivesReopenAndPurge(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	l, err := ledger.Open(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	seed(t, l, 5, 2)
	v, _ := l.Edit(ctx, 5, 1, "texto", "")
	if err := l.Lock(ctx, 5, 1, v.Number); err != nil {
		t.Fatal(err)
	}
	l.Close()

	l = testsupport.MustOpenLedger(t, cfg)
	state, err := l.ReviewState(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got := state[1]; got.Version != 1 || !got.Locked {
		t.Fatalf("state[1] = %+v", got)
	}
	if got := state[0]; got.Version != 0 || got.Locked {
		t.Fatalf("state[0] = %+v", got)
	}

	if err := l.Purge(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if segs, _ := l.Segments(ctx, 5); len(segs) != 0 {
		t.Fatalf("expected purge to remove segments, got %d", len(segs))
	}
}

func openSecondHandle(t *testing.T, path string, opts ...ledger.Option) *ledger.Ledger {
	t.Helper()
	l, err := ledger.OpenPath(context.Background(), path, nil, opts...)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRegenIsExclusiveAcrossHandles(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	serve := testsupport.MustOpenLedger(t, cfg)
	cli := openSecondHandle(t, cfg.ReviewDBPath())
	seed(t, serve, 1, 1)
	if _, err := serve.Edit(ctx, 1, 0, "hola", ""); err != nil {
		t.Fatal(err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		wg     sync.WaitGroup
		regErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, regErr = serve.Regen(ctx, 1, 0, "", func(_ context.Context, _ ledger.Segment, cur ledger.Version) (ledger.Generated, error) {
			close(entered)
			<-release
			return ledger.Generated{Text: cur.Text, AudioPath: "a.wav", SynthKey: "k"}, nil
		})
	}()
	<-entered

	_, err := cli.Regen(ctx, 1, 0, "bob", func(context.Context, ledger.Segment, ledger.Version) (ledger.Generated, error) {
		t.Error("regen from a second handle synthesized while the segment was claimed")
		return ledger.Generated{}, nil
	})
	if !errors.Is(err, services.ErrSegmentBusy) {
		t.Fatalf("expected ErrSegmentBusy, got %v", err)
	}
	close(release)
	wg.Wait()
	if regErr != nil {
		t.Fatalf("first regen: %v", regErr)
	}

	v, err := cli.Regen(ctx, 1, 0, "bob", func(_ context.Context, _ ledger.Segment, cur ledger.Version) (ledger.Generated, error) {
		return ledger.Generated{Text: cur.Text, AudioPath: "b.wav", SynthKey: "k"}, nil
	})
	if err != nil || v.Number != 3 {
		t.Fatalf("regen after release = %+v, %v; want version 3", v, err)
	}
}

func TestClaimExpiresWhenHolderDies(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	l := testsupport.MustOpenLedger(t, cfg)
	crashed := openSecondHandle(t, cfg.ReviewDBPath(), ledger.WithClaimTTL(time.Millisecond))
	seed(t, l, 1, 1)

	if _, err := crashed.Claim(ctx, 1, 0, "pipeline"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	release, err := l.Claim(ctx, 1, 0, "regen")
	if err != nil {
		t.Fatalf("expired claim still held: %v", err)
	}

	_, err = crashed.Claim(ctx, 1, 0, "pipeline")
	if !errors.Is(err, services.ErrSegmentBusy) || !strings.Contains(err.Error(), "regen (pid") {
		t.Fatalf("expected busy naming the holder, got %v", err)
	}
	release()
	again, err := crashed.Claim(ctx, 1, 0, "pipeline")
	if err != nil {
		t.Fatalf("Claim after release: %v", err)
	}
	again()
}
