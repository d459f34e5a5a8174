package store

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/story"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(item map[string]types.AttributeValue) string {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func sampleRun() *Run {
	return &Run{
		ID:             "run-123",
		Kind:           KindStream,
		ChildName:      "Mia",
		Gender:         "girl",
		PageNumbers:    []int{1, 2, 3},
		Concurrency:    3,
		EnableFallback: true,
		CreatedAt:      1_700_000_000,
	}
}

func sampleResult() *faceswap.Result {
	methods := faceswap.NewMethodBreakdown()
	methods[faceswap.MethodEaselStylized] = 2
	methods[faceswap.MethodOriginal] = 1
	return &faceswap.Result{
		RunID: "run-123",
		Results: []faceswap.PageResult{
			{PageNumber: 1, Success: true, ImageURL: "https://cdn.example.com/1.png", Method: faceswap.MethodEaselStylized},
			{PageNumber: 2, Success: true, ImageURL: "https://cdn.example.com/2.png", Method: faceswap.MethodOriginal},
			{PageNumber: 3, Success: true, ImageURL: "https://cdn.example.com/3.png", Method: faceswap.MethodEaselStylized},
		},
		FailedPoses:      []story.Pose{story.PoseFrontFacing},
		PortraitDuration: 12 * time.Second,
		PageDuration:     40 * time.Second,
		TotalDuration:    53 * time.Second,
		SuccessCount:     3,
		Methods:          methods,
	}
}

func TestDynamoStore_RoundTrip(t *testing.T) {
	db := newFakeDynamo()
	s := newDynamoStore(db, "runs", time.Hour)

	run := sampleRun()
	run.FromResult(sampleResult())
	run.Finish(StatusComplete, nil)

	if err := s.PutRun(context.Background(), run); err != nil {
		t.Fatalf("PutRun: %v", err)
	}

	item := db.items["RUN#run-123|META"]
	if item == nil {
		t.Fatal("item not written under RUN# key")
	}
	if _, ok := item["results"].(*types.AttributeValueMemberB); !ok {
		t.Errorf("results should be stored as a binary attribute, got %T", item["results"])
	}
	exp, _ := strconv.ParseInt(item["expiresAt"].(*types.AttributeValueMemberN).Value, 10, 64)
	if exp != 1_700_000_000+3600 {
		t.Errorf("expiresAt = %d", exp)
	}

	got, err := s.GetRun(context.Background(), "run-123")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID != "run-123" || got.Status != StatusComplete || got.ChildName != "Mia" {
		t.Errorf("unexpected run: %+v", got)
	}
	if len(got.Results) != 3 || got.Results[2].ImageURL != "https://cdn.example.com/3.png" {
		t.Errorf("results did not survive: %+v", got.Results)
	}
	if got.Methods["easel-stylized"] != 2 || got.Methods["original"] != 1 {
		t.Errorf("methods = %v", got.Methods)
	}
	if n, ok := got.Methods["nano-banana"]; !ok || n != 0 {
		t.Errorf("zero method counts should be kept, got %v", got.Methods)
	}
	if len(got.Methods) != len(faceswap.AllMethods) {
		t.Errorf("methods has %d keys, want %d", len(got.Methods), len(faceswap.AllMethods))
	}
	if got.PortraitTimeMs != 12000 || len(got.FailedPoses) != 1 {
		t.Errorf("portraitTimeMs=%d failedPoses=%v", got.PortraitTimeMs, got.FailedPoses)
	}
}

func TestDynamoStore_GetMissing(t *testing.T) {
	s := newDynamoStore(newFakeDynamo(), "runs", 0)
	got, err := s.GetRun(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("GetRun(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestDynamoStore_Errors(t *testing.T) {
	db := newFakeDynamo()
	s := newDynamoStore(db, "runs", 0)
	if err := s.PutRun(context.Background(), &Run{}); err == nil {
		t.Error("empty run ID should be rejected")
	}
	db.err = errors.New("throttled")
	if err := s.PutRun(context.Background(), sampleRun()); err == nil {
		t.Error("expected PutItem error")
	}
	if _, err := s.GetRun(context.Background(), "run-123"); err == nil {
		t.Error("expected GetItem error")
	}
}

func TestMemoryStore_CopiesRecords(t *testing.T) {
	m := NewMemoryStore(DefaultTTL)
	run := sampleRun()
	run.FromResult(sampleResult())
	if err := m.PutRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	run.Results[0].ImageURL = "mutated"

	got, err := m.GetRun(context.Background(), "run-123")
	if err != nil {
		t.Fatal(err)
	}
	if got.Results[0].ImageURL != "https://cdn.example.com/1.png" {
		t.Error("stored record should not alias the caller's slice")
	}
	if missing, _ := m.GetRun(context.Background(), "other"); missing != nil {
		t.Error("missing run should be nil")
	}
}

func TestMemoryStore_ExpiresRecords(t *testing.T) {
	m := NewMemoryStore(50 * time.Millisecond)
	if err := m.PutRun(context.Background(), sampleRun()); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.GetRun(context.Background(), "run-123"); got == nil {
		t.Fatal("fresh run should be readable")
	}

	time.Sleep(120 * time.Millisecond)
	got, err := m.GetRun(context.Background(), "run-123")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expired run should be nil, got %+v", got)
	}
}

func TestRun_FinishRecordsError(t *testing.T) {
	r := sampleRun()
	r.Finish(StatusError, errors.New("bridge failed"))
	if r.Status != StatusError || r.Error != "bridge failed" || r.CompletedAt == 0 {
		t.Errorf("unexpected run: %+v", r)
	}
}
