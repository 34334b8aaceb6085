package visualiser

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/rgbdvo/internal/tracker"
	"github.com/banshee-data/rgbdvo/internal/vo"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

func startBufconn(t *testing.T, cfg Config) (*Publisher, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	pub := NewPublisher(cfg)
	if err := pub.Serve(lis); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	t.Cleanup(pub.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return pub, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func subscribe(t *testing.T, pub *Publisher, conn *grpc.ClientConn, keyframesOnly bool) UpdateReceiver {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	before := pub.Stats().Clients
	stream, err := Subscribe(ctx, conn, keyframesOnly)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitFor(t, "client registration", func() bool { return pub.Stats().Clients > before })
	return stream
}

func sampleFrame(idx int, kf uuid.UUID) tracker.FrameResult {
	return tracker.FrameResult{
		Index:      idx,
		Timestamp:  10 + float64(idx)/30,
		Pose:       se3.Exp([6]float64{0.01, 0, 0.02, 0.1 * float64(idx), 0, 0}),
		KeyframeID: kf,
		Result: vo.Result{
			Status:          vo.StatusConverged,
			NumPixels:       4200,
			PixelPercentage: 0.84,
			Cost:            0.25,
			Levels:          []vo.LevelResult{{Iterations: 3}, {Iterations: 1}},
		},
	}
}

func TestPoseUpdateStruct(t *testing.T) {
	kf := uuid.New()
	u := updateFromFrame(sampleFrame(7, kf))
	u.Seq = 42

	msg, err := u.ToStruct()
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	got, err := UpdateFromStruct(msg)
	if err != nil {
		t.Fatalf("UpdateFromStruct: %v", err)
	}
	if *got != *u {
		t.Errorf("decoded update = %+v, want %+v", got, u)
	}
	if got.Iterations != 4 || got.Status != "converged" || got.KeyframeID != kf.String() {
		t.Errorf("unexpected fields: %+v", got)
	}
}

func TestUpdateFromStructRejectsShortPose(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]interface{}{"pose": []interface{}{1.0, 2.0}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UpdateFromStruct(msg); err == nil {
		t.Error("expected error for a 2-element pose")
	}
}

func TestPublishBeforeStartIsNoop(t *testing.T) {
	pub := NewPublisher(DefaultConfig())
	if err := pub.OnFrame(context.Background(), sampleFrame(0, uuid.New())); err != nil {
		t.Fatalf("OnFrame: %v", err)
	}
	if st := pub.Stats(); st.Published != 0 || st.Running {
		t.Errorf("stats = %+v, want idle", st)
	}
	if pub.Addr() != nil {
		t.Error("expected nil Addr before Start")
	}
	pub.Stop()
}

func TestStreamDeliversUpdatesInOrder(t *testing.T) {
	pub, conn := startBufconn(t, DefaultConfig())
	stream := subscribe(t, pub, conn, false)
	ctx := context.Background()

	kf := uuid.New()
	if err := pub.OnKeyframe(ctx, tracker.KeyframeEvent{ID: kf, FrameIndex: 0, Timestamp: 10, Pose: se3.Identity(), NumPoints: 900}); err != nil {
		t.Fatal(err)
	}
	fr := sampleFrame(1, kf)
	if err := pub.OnFrame(ctx, fr); err != nil {
		t.Fatal(err)
	}

	first, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	second, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if first.Kind != KindKeyframe || first.KeyframeID != kf.String() || first.NumPixels != 900 {
		t.Errorf("first update = %+v, want keyframe", first)
	}
	if second.Kind != KindFrame || second.FrameIndex != 1 || second.Pose != fr.Pose {
		t.Errorf("second update = %+v, want frame 1", second)
	}
	if second.Seq <= first.Seq {
		t.Errorf("seq not increasing: %d then %d", first.Seq, second.Seq)
	}

	pub.Stop()
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("Recv after Stop = %v, want io.EOF", err)
	}
}

func TestStreamKeyframesOnly(t *testing.T) {
	pub, conn := startBufconn(t, DefaultConfig())
	stream := subscribe(t, pub, conn, true)
	ctx := context.Background()

	kf := uuid.New()
	_ = pub.OnFrame(ctx, sampleFrame(3, kf))
	_ = pub.OnKeyframe(ctx, tracker.KeyframeEvent{ID: kf, FrameIndex: 4, Pose: se3.Identity()})

	u, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if u.Kind != KindKeyframe || u.FrameIndex != 4 {
		t.Errorf("got %+v, want keyframe at frame 4", u)
	}
}

func TestStreamRejectsExtraClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	pub, conn := startBufconn(t, cfg)
	subscribe(t, pub, conn, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	extra, err := Subscribe(ctx, conn, false)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	_, err = extra.Recv()
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("Recv err = %v, want ResourceExhausted", err)
	}
}

func TestSlowClientDropsUpdates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClientBuffer = 1
	pub, _ := startBufconn(t, cfg)

	// A registered client that never reads.
	c, err := pub.addClient(false)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.removeClient(c.id)

	kf := uuid.New()
	for i := 0; i < 3; i++ {
		_ = pub.OnFrame(context.Background(), sampleFrame(i, kf))
	}
	waitFor(t, "drops", func() bool { return pub.Stats().Dropped == 2 })
	if got := len(c.ch); got != 1 {
		t.Errorf("client queue holds %d updates, want 1", got)
	}
	if st := pub.Stats(); st.Published != 3 || st.Clients != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestServeTwice(t *testing.T) {
	pub, _ := startBufconn(t, DefaultConfig())
	if err := pub.Serve(bufconn.Listen(1024)); err == nil {
		t.Error("expected error serving a running publisher")
	}
}
