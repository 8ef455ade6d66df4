package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/unkn0wn-root/offlinecache/fetch"
)

func mutation(method, rawURL, body string) fetch.Request {
	return fetch.Request{
		Method: method,
		URL:    abs(rawURL),
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(body),
		Mode:   fetch.ModeCORS,
	}
}

func TestOfflineMutationIsQueued(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.net.setOffline(true)

	resp, err := e.w.HandleFetch(ctx, mutation(http.MethodPost, "/lots/add", `{"pn": "P-100", "quantity": 3}`))
	if err != nil {
		t.Fatalf("HandleFetch: %v", err)
	}
	if resp.Status != http.StatusOK || resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("resp = %d %q", resp.Status, resp.Header.Get("Content-Type"))
	}
	var marker struct {
		Offline bool `json:"offline"`
		Saved   bool `json:"saved"`
	}
	if err := json.Unmarshal(resp.Body, &marker); err != nil || !marker.Offline || !marker.Saved {
		t.Fatalf("body = %s", resp.Body)
	}

	ops, err := e.store.ListPendingOperations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("ops = %d, want exactly 1", len(ops))
	}
	op := ops[0]
	if op.Method != http.MethodPost || op.URL != origin+"/lots/add" || string(op.Body) != `{"pn":"P-100","quantity":3}` {
		t.Fatalf("op = %+v (%s)", op, op.Body)
	}
}

func TestOnlineMutationPassesThroughUntouched(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.net.set("/lots/3/delete", fetch.Response{Status: http.StatusForbidden, Body: []byte("nope")})

	resp, err := e.w.HandleFetch(ctx, mutation(http.MethodDelete, "/lots/3/delete", ""))
	if err != nil || resp.Status != http.StatusForbidden || string(resp.Body) != "nope" {
		t.Fatalf("resp = %d %q, %v", resp.Status, resp.Body, err)
	}
	if n, _ := e.store.CountPendingOperations(ctx); n != 0 {
		t.Fatalf("queued %d ops for an online mutation", n)
	}
	if _, ok := e.match(t, e.w.RuntimeName(), "/lots/3/delete"); ok {
		t.Fatalf("mutation response cached")
	}
}

func TestOfflineMutationWithNonJSONBodyQueuesEmptyObject(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.net.setOffline(true)
	req := mutation(http.MethodPatch, "/lots/9", "lot_number=L-1&pn=X")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := e.w.HandleFetch(ctx, req); err != nil {
		t.Fatalf("HandleFetch: %v", err)
	}
	ops, _ := e.store.ListPendingOperations(ctx)
	if len(ops) != 1 || string(ops[0].Body) != `{}` || ops[0].Method != http.MethodPatch {
		t.Fatalf("ops = %+v", ops)
	}
}

func TestQueueFailureIsReported(t *testing.T) {
	storeErr := errors.New("disk full")
	e := newEnv(t, nil)
	e.w.store = failingStore{Store: e.store, err: storeErr}
	e.net.setOffline(true)

	resp, err := e.w.HandleFetch(context.Background(), mutation(http.MethodPut, "/lots/1", `{}`))
	var qe *QueueError
	if !errors.As(err, &qe) || !errors.Is(err, storeErr) {
		t.Fatalf("err = %v, want QueueError wrapping store error", err)
	}
	if !fetch.IsNetworkError(qe.FetchErr) {
		t.Fatalf("FetchErr = %v", qe.FetchErr)
	}
	if resp.Status != http.StatusServiceUnavailable || string(resp.Body) != `{"offline":true,"saved":false}` {
		t.Fatalf("resp = %d %s", resp.Status, resp.Body)
	}
}

func TestSyncReplaysAndRemovesSucceeded(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.net.setOffline(true)
	for _, r := range []fetch.Request{
		mutation(http.MethodPost, "/lots/add", `{"pn":"A"}`),
		mutation(http.MethodPost, "/lots/add", `{"pn":"B"}`),
		mutation(http.MethodDelete, "/lots/5/delete", ``),
	} {
		if _, err := e.w.HandleFetch(ctx, r); err != nil {
			t.Fatalf("queue: %v", err)
		}
	}
	queued, _ := e.store.ListPendingOperations(ctx)

	e.net.setOffline(false)
	e.net.set("/lots/add", fetch.Response{Status: http.StatusCreated})
	e.net.set("/lots/5/delete", fetch.Response{Status: http.StatusUnprocessableEntity})
	before := len(e.net.requests())

	report, err := e.w.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report != (SyncReport{Attempted: 3, Synced: 2, Failed: 1}) {
		t.Fatalf("report = %+v", report)
	}

	replays := e.net.requests()[before:]
	if len(replays) != 3 {
		t.Fatalf("replays = %d", len(replays))
	}
	for i, r := range replays {
		if r.URL != queued[i].URL || r.Method != queued[i].Method || string(r.Body) != string(queued[i].Body) {
			t.Fatalf("replay %d = %s %s %s, want insertion order", i, r.Method, r.URL, r.Body)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("replay %d content type = %q", i, r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Idempotency-Key") != queued[i].IdempotencyKey {
			t.Fatalf("replay %d idempotency key mismatch", i)
		}
	}

	left, _ := e.store.ListPendingOperations(ctx)
	if len(left) != 1 || left[0].URL != origin+"/lots/5/delete" {
		t.Fatalf("left = %+v", left)
	}

	// rejected op is retried on every pass
	report, _ = e.w.Sync(ctx)
	if report.Attempted != 1 || report.Failed != 1 {
		t.Fatalf("second pass = %+v", report)
	}
}

func TestSyncEmptyQueueIsNoop(t *testing.T) {
	e := newEnv(t, nil)
	for i := 0; i < 2; i++ {
		report, err := e.w.Sync(context.Background())
		if err != nil || report != (SyncReport{}) {
			t.Fatalf("pass %d: %+v, %v", i, report, err)
		}
	}
	if e.net.total() != 0 {
		t.Fatalf("empty sync touched the network")
	}
}

func TestSyncOfflineKeepsEverything(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.net.setOffline(true)
	_, _ = e.w.HandleFetch(ctx, mutation(http.MethodPost, "/lots/add", `{}`))
	_, _ = e.w.HandleFetch(ctx, mutation(http.MethodPost, "/lots/add", `{}`))

	report, err := e.w.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Failed != 2 || report.Synced != 0 {
		t.Fatalf("report = %+v", report)
	}
	if n, _ := e.store.CountPendingOperations(ctx); n != 2 {
		t.Fatalf("count = %d", n)
	}
}
