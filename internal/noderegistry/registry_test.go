package noderegistry

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeSender records every request it's asked to forward and lets a test
// script a reply (or none, to exercise timeouts).
type fakeSender struct {
	mu       sync.Mutex
	requests []sentRequest
	onSend   func(ticketID, command string, params json.RawMessage)
	sendErr  error
}

type sentRequest struct {
	ticketID string
	command  string
	params   json.RawMessage
}

func (f *fakeSender) SendNodeInvokeRequest(ticketID, command string, params json.RawMessage) error {
	f.mu.Lock()
	f.requests = append(f.requests, sentRequest{ticketID, command, params})
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(ticketID, command, params)
	}
	return f.sendErr
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "ticket-" + strconv.Itoa(n)
	}
}

func registerNode(r *Registry, id string, platform Platform, commands []string, sender Sender) {
	r.Register(&Node{
		NodeID:   id,
		Platform: platform,
		Commands: commands,
		Sender:   sender,
	})
}

func TestInvoke_RejectsUnknownNode(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	_, err := r.Invoke(context.Background(), "ghost", "system.run", nil, "", 0)
	if !errors.Is(err, ErrNodeNotConnected) {
		t.Fatalf("expected ErrNodeNotConnected, got %v", err)
	}
}

func TestInvoke_RejectsCommandNotInNodeAllowlist(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	sender := &fakeSender{}
	registerNode(r, "n1", PlatformMac, []string{"canvas.snapshot"}, sender)

	_, err := r.Invoke(context.Background(), "n1", "system.run", nil, "", 0)
	if err == nil {
		t.Fatal("expected error for command outside node's declared allowlist")
	}
	if len(sender.requests) != 0 {
		t.Errorf("expected no forwarded request, got %d", len(sender.requests))
	}
}

func TestInvoke_RejectsCommandNotInPlatformCatalog(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	sender := &fakeSender{}
	// iOS platform catalog doesn't include system.run, even if the node
	// (incorrectly) declares it.
	registerNode(r, "n1", PlatformIOS, []string{"system.run"}, sender)

	_, err := r.Invoke(context.Background(), "n1", "system.run", nil, "", 0)
	if err == nil {
		t.Fatal("expected error for command outside platform catalog")
	}
}

func TestInvoke_ForwardsAndResolvesSuccess(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	sender := &fakeSender{
		onSend: func(ticketID, command string, params json.RawMessage) {
			go r.Resolve(ticketID, true, json.RawMessage(`{"ok":true}`), "")
		},
	}
	registerNode(r, "n1", PlatformMac, []string{"canvas.snapshot"}, sender)

	res, err := r.Invoke(context.Background(), "n1", "canvas.snapshot", nil, "", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK {
		t.Errorf("expected ok result, got %+v", res)
	}
	if len(sender.requests) != 1 {
		t.Errorf("expected exactly one forwarded request, got %d", len(sender.requests))
	}
}

func TestInvoke_TimesOutWithoutResult(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	sender := &fakeSender{} // never resolves
	registerNode(r, "n1", PlatformMac, []string{"canvas.snapshot"}, sender)

	_, err := r.Invoke(context.Background(), "n1", "canvas.snapshot", nil, "", 20*time.Millisecond)
	if !errors.Is(err, ErrInvokeTimeout) {
		t.Fatalf("expected ErrInvokeTimeout, got %v", err)
	}
}

func TestInvoke_IdenticalIdempotencyKeyCollapsesToOneRequest(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	var sendCount int
	var mu sync.Mutex
	sender := &fakeSender{
		onSend: func(ticketID, command string, params json.RawMessage) {
			mu.Lock()
			sendCount++
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			r.Resolve(ticketID, true, nil, "")
		},
	}
	registerNode(r, "n1", PlatformMac, []string{"canvas.snapshot"}, sender)

	var wg sync.WaitGroup
	results := make([]InvokeResult, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Invoke(context.Background(), "n1", "canvas.snapshot", nil, "same-key", time.Second)
			if err != nil {
				t.Errorf("invoke %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	mu.Lock()
	got := sendCount
	mu.Unlock()
	if got != 1 {
		t.Errorf("expected exactly 1 request reaching the node, got %d", got)
	}
	for i, res := range results {
		if !res.OK {
			t.Errorf("result %d not ok: %+v", i, res)
		}
	}
}

func TestInvoke_DifferentIdempotencyKeysDoNotCollapse(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	sender := &fakeSender{
		onSend: func(ticketID, command string, params json.RawMessage) {
			go r.Resolve(ticketID, true, nil, "")
		},
	}
	registerNode(r, "n1", PlatformMac, []string{"canvas.snapshot"}, sender)

	if _, err := r.Invoke(context.Background(), "n1", "canvas.snapshot", nil, "key-a", time.Second); err != nil {
		t.Fatalf("invoke a: %v", err)
	}
	if _, err := r.Invoke(context.Background(), "n1", "canvas.snapshot", nil, "key-b", time.Second); err != nil {
		t.Fatalf("invoke b: %v", err)
	}
	if len(sender.requests) != 2 {
		t.Errorf("expected 2 forwarded requests, got %d", len(sender.requests))
	}
}

func TestUnregister_FailsInFlightTicketsWithNodeDisconnected(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	sender := &fakeSender{} // never resolves on its own
	registerNode(r, "n1", PlatformMac, []string{"canvas.snapshot"}, sender)

	done := make(chan InvokeResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := r.Invoke(context.Background(), "n1", "canvas.snapshot", nil, "", 5*time.Second)
		done <- res
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the invoke register its ticket
	r.Unregister("n1")

	select {
	case res := <-done:
		if res.OK {
			t.Error("expected failed result")
		}
		if res.Error != "node-disconnected" {
			t.Errorf("expected node-disconnected error, got %q", res.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect to fail the ticket")
	}
	if err := <-errCh; err != nil {
		t.Errorf("expected nil error (result carries the failure), got %v", err)
	}
}

func TestResolve_UnknownTicketErrors(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	if err := r.Resolve("nope", true, nil, ""); err == nil {
		t.Error("expected error resolving an unknown ticket id")
	}
}

func TestList_ReturnsConnectedNodes(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	registerNode(r, "n1", PlatformMac, []string{"canvas.snapshot"}, &fakeSender{})
	registerNode(r, "n2", PlatformLinux, []string{"system.run"}, &fakeSender{})

	nodes := r.List()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	r.Unregister("n1")
	nodes = r.List()
	if len(nodes) != 1 || nodes[0].NodeID != "n2" {
		t.Errorf("expected only n2 after unregistering n1, got %+v", nodes)
	}
}
