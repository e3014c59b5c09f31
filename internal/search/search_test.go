package search

import "testing"

func TestStartAssignsFreshQueryID(t *testing.T) {
	r := NewRegistry()
	id1, err := r.Start(3)
	if err != nil {
		t.Fatal(err)
	}
	r.Finish()
	id2, err := r.Start(2)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatalf("expected distinct query ids, got %d twice", id1)
	}
}

func TestStartWhileActiveIsBusy(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Start(1); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Start(1); err != ErrBusy {
		t.Fatalf("Start() while active = %v, want ErrBusy", err)
	}
}

func TestAddResultIgnoresStaleQueryID(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Start(1)
	r.AddResult(id+1, 42, 10)
	if r.GetCount() != 0 {
		t.Fatalf("GetCount() = %d, want 0 for mismatched query id", r.GetCount())
	}
	r.AddResult(id, 42, 10)
	if r.GetCount() != 1 {
		t.Fatalf("GetCount() = %d, want 1", r.GetCount())
	}
}

func TestAddResultDropsPastCapacity(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Start(1)
	for i := 0; i < MaxResults+10; i++ {
		r.AddResult(id, uint64(i), 1)
	}
	if r.GetCount() != MaxResults {
		t.Fatalf("GetCount() = %d, want capped at %d", r.GetCount(), MaxResults)
	}
}

func TestIsCompleteTracksPeerResponses(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Start(2)
	if r.IsComplete() {
		t.Fatal("IsComplete() = true before any responses")
	}
	r.MarkPeerResponded(id)
	if r.IsComplete() {
		t.Fatal("IsComplete() = true after only one of two responses")
	}
	r.MarkPeerResponded(id)
	if !r.IsComplete() {
		t.Fatal("IsComplete() = false after both peers responded")
	}
}

func TestGetResultOutOfRange(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Start(1)
	r.AddResult(id, 1, 1)
	if _, ok := r.GetResult(1); ok {
		t.Fatal("GetResult(1) ok = true, want false with only one result")
	}
	if _, ok := r.GetResult(-1); ok {
		t.Fatal("GetResult(-1) ok = true, want false")
	}
}

func TestFinishRecordsCompletedDiagnostic(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Start(1)
	r.AddResult(id, 7, 5)
	r.MarkPeerResponded(id)
	r.Finish()

	if r.Active() {
		t.Fatal("Active() = true after Finish")
	}
	cq, ok := r.Completed(id)
	if !ok {
		t.Fatal("Completed() missing entry after Finish")
	}
	if cq.ResultCount != 1 || cq.Responses != 1 || cq.ExpectedPeers != 1 {
		t.Fatalf("Completed() = %+v, unexpected counts", cq)
	}
}

func TestSetExpectedPeersArmsCompletionThreshold(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Start(0)
	if !r.IsComplete() {
		t.Fatal("IsComplete() = false with zero expected peers, want true (nothing to wait for)")
	}
	r.SetExpectedPeers(2)
	if r.IsComplete() {
		t.Fatal("IsComplete() = true right after raising expected peers to 2")
	}
	r.MarkPeerResponded(id)
	r.MarkPeerResponded(id)
	if !r.IsComplete() {
		t.Fatal("IsComplete() = false after both expected peers responded")
	}
}

func TestClearDropsActiveQueryWithoutRecording(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Start(1)
	r.Clear()
	if r.Active() {
		t.Fatal("Active() = true after Clear")
	}
	if _, ok := r.Completed(id); ok {
		t.Fatal("Completed() has an entry after Clear, want none")
	}
}
