package checkpoint

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helion-systems/helion/internal/domain"
)

func TestThreadID_FormatsBotID(t *testing.T) {
	assert.Equal(t, "bot_42", ThreadID(42))
}

func TestMemory_LoadMissingThreadReturnsFalse(t *testing.T) {
	m := NewMemory()
	state, ok, err := m.Load(context.Background(), "bot_1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, state)
}

func TestMemory_SaveThenLoadRoundTrips(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	want := &domain.State{BotID: 7, CycleID: "cycle-1", Symbols: []string{"BTCUSDT"}}

	require.NoError(t, m.Save(ctx, "bot_7", want))

	got, ok, err := m.Load(ctx, "bot_7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want.CycleID, got.CycleID)
	assert.Equal(t, want.Symbols, got.Symbols)
}

func TestMemory_SaveClonesState(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	state := &domain.State{BotID: 1, CycleID: "original"}
	require.NoError(t, m.Save(ctx, "bot_1", state))

	state.CycleID = "mutated-after-save"

	got, _, err := m.Load(ctx, "bot_1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.CycleID)
}

type fakeS3Client struct {
	objects map[string][]byte
}

func newFakeS3Client() *fakeS3Client {
	return &fakeS3Client{objects: make(map[string][]byte)}
}

func (f *fakeS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*params.Key]
	if !ok {
		return nil, &s3.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestS3_KeyIncludesPrefixWhenSet(t *testing.T) {
	store := NewS3(newFakeS3Client(), "bucket", "checkpoints")
	assert.Equal(t, "checkpoints/bot_1.msgpack", store.key("bot_1"))
}

func TestS3_KeyOmitsPrefixWhenEmpty(t *testing.T) {
	store := NewS3(newFakeS3Client(), "bucket", "")
	assert.Equal(t, "bot_1.msgpack", store.key("bot_1"))
}

func TestS3_SaveThenLoadRoundTrips(t *testing.T) {
	client := newFakeS3Client()
	store := NewS3(client, "bucket", "checkpoints")
	ctx := context.Background()
	want := &domain.State{BotID: 3, CycleID: "cycle-3"}

	require.NoError(t, store.Save(ctx, "bot_3", want))

	got, ok, err := store.Load(ctx, "bot_3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want.CycleID, got.CycleID)
}

func TestS3_LoadMissingKeyReturnsFalseNotError(t *testing.T) {
	store := NewS3(newFakeS3Client(), "bucket", "checkpoints")
	state, ok, err := store.Load(context.Background(), "bot_missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, state)
}
