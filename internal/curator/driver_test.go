package curator_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leisuredna/curator/internal/config"
	"github.com/leisuredna/curator/internal/curator"
	"github.com/leisuredna/curator/internal/gemini"
	"github.com/leisuredna/curator/internal/session"
	"github.com/leisuredna/curator/internal/transcript"
)

// fakeSession scripts assistant replies in order and records what was sent.
type fakeSession struct {
	replies   []string
	sendErr   error
	sent      []string
	imageSent bool
}

func (f *fakeSession) Send(_ context.Context, text string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, text)
	if len(f.replies) == 0 {
		return "ok", nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeSession) SendImage(ctx context.Context, text, mimeType string, data []byte) (string, error) {
	f.imageSent = true
	return f.Send(ctx, text)
}

// scriptedClient fails StartChat for the first failFirst candidates, then
// hands out its fakeSession with the scripted opening message.
type scriptedClient struct {
	failFirst int
	opening   string
	session   *fakeSession
	tried     []string
	prompts   []string
}

func newScriptedClient(opening string, replies ...string) *scriptedClient {
	return &scriptedClient{opening: opening, session: &fakeSession{replies: replies}}
}

func (c *scriptedClient) StartChat(_ context.Context, model, prompt string) (gemini.Session, string, error) {
	c.tried = append(c.tried, model)
	if len(c.tried) <= c.failFirst {
		return nil, "", fmt.Errorf("model %s unavailable", model)
	}
	c.prompts = append(c.prompts, prompt)
	return c.session, c.opening, nil
}

func newTestDriver(t *testing.T, client *scriptedClient) (*curator.Driver, *transcript.Store) {
	t.Helper()
	store := transcript.NewStore(filepath.Join(t.TempDir(), "log.csv"), nil)
	cfg := config.GeminiConfig{
		Models:  []string{"model-a", "model-b", "model-c"},
		Persona: "당신은 여가 큐레이터입니다.",
	}
	return curator.NewDriver(client, store, nil, cfg, nil), store
}

func chattingSession(t *testing.T, d *curator.Driver, client *scriptedClient) *session.Session {
	t.Helper()
	sess := session.New("test-session")
	profile := session.Profile{
		AgeGender: "30대 남성",
		Location:  "서울 마포구",
		Budget:    "3~7만원",
		Companion: "혼자",
	}
	if err := d.SubmitProfile(context.Background(), sess, profile); err != nil {
		t.Fatalf("SubmitProfile failed: %v", err)
	}
	if _, err := d.OpenChat(context.Background(), sess); err != nil {
		t.Fatalf("OpenChat failed: %v", err)
	}
	return sess
}

func TestSubmitProfileValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		profile session.Profile
		wantErr bool
	}{
		{
			name:    "both required fields present",
			profile: session.Profile{AgeGender: "20대 여성", Location: "부산"},
		},
		{
			name:    "optional fields may be blank",
			profile: session.Profile{AgeGender: "40대 남성", Location: "대구", Budget: "", Companion: ""},
		},
		{
			name:    "missing age_gender",
			profile: session.Profile{Location: "서울"},
			wantErr: true,
		},
		{
			name:    "missing location",
			profile: session.Profile{AgeGender: "30대 남성"},
			wantErr: true,
		},
		{
			name:    "all fields missing",
			profile: session.Profile{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newScriptedClient("안녕하세요!")
			d, _ := newTestDriver(t, client)
			sess := session.New("s")

			err := d.SubmitProfile(context.Background(), sess, tt.profile)
			if tt.wantErr {
				var vErr *curator.ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("got error %v, want ValidationError", err)
				}
				if sess.Step() != session.StepCollectingProfile {
					t.Error("session advanced despite failed validation")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sess.Step() != session.StepChatting {
				t.Errorf("step = %q, want %q", sess.Step(), session.StepChatting)
			}
		})
	}
}

func TestOpenChatInjectsPersonaAndProfile(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("환영합니다!")
	d, _ := newTestDriver(t, client)
	sess := chattingSession(t, d, client)

	if len(client.prompts) != 1 {
		t.Fatalf("StartChat called %d times, want 1", len(client.prompts))
	}
	prompt := client.prompts[0]
	if !strings.HasPrefix(prompt, "당신은 여가 큐레이터입니다.") {
		t.Errorf("prompt does not start with persona: %q", prompt)
	}
	if !strings.Contains(prompt, "[사용자 정보] 30대 남성, 서울 마포구, 3~7만원 예산, 혼자 동반.") {
		t.Errorf("prompt missing profile context line: %q", prompt)
	}

	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].Content != "환영합니다!" {
		t.Errorf("opening message not recorded: %+v", msgs)
	}
}

func TestOpenChatFallsBackInOrder(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("opening")
	client.failFirst = 2

	d, _ := newTestDriver(t, client)
	sess := session.New("s")
	_ = d.SubmitProfile(context.Background(), sess, session.Profile{AgeGender: "a", Location: "b"})

	opening, err := d.OpenChat(context.Background(), sess)
	if err != nil {
		t.Fatalf("OpenChat failed: %v", err)
	}
	if opening != "opening" {
		t.Errorf("opening = %q", opening)
	}

	want := []string{"model-a", "model-b", "model-c"}
	if len(client.tried) != 3 {
		t.Fatalf("tried %d models, want 3: %v", len(client.tried), client.tried)
	}
	for i, m := range want {
		if client.tried[i] != m {
			t.Errorf("probe order[%d] = %q, want %q", i, client.tried[i], m)
		}
	}
}

func TestOpenChatExhaustsAllModels(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("never")
	client.failFirst = 99

	d, _ := newTestDriver(t, client)
	sess := session.New("s")
	_ = d.SubmitProfile(context.Background(), sess, session.Profile{AgeGender: "a", Location: "b"})

	_, err := d.OpenChat(context.Background(), sess)
	if !errors.Is(err, curator.ErrModelExhausted) {
		t.Fatalf("got error %v, want ErrModelExhausted", err)
	}
	if len(client.tried) != 3 {
		t.Errorf("tried %d models, want all 3", len(client.tried))
	}
	if sess.Chat() != nil {
		t.Error("chat handle attached despite exhaustion")
	}
}

func TestOpenChatTwiceFails(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("hi")
	d, _ := newTestDriver(t, client)
	sess := chattingSession(t, d, client)

	if _, err := d.OpenChat(context.Background(), sess); !errors.Is(err, curator.ErrChatAlreadyOpen) {
		t.Fatalf("got error %v, want ErrChatAlreadyOpen", err)
	}
}

func TestSendTurnRejectsBlankMessage(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("hi")
	d, _ := newTestDriver(t, client)
	sess := chattingSession(t, d, client)

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := d.SendTurn(context.Background(), sess, text, nil); !errors.Is(err, curator.ErrEmptyMessage) {
			t.Errorf("SendTurn(%q) error = %v, want ErrEmptyMessage", text, err)
		}
	}
	if len(sess.Messages()) != 1 {
		t.Errorf("blank turns appended messages: %d", len(sess.Messages()))
	}
}

func TestSendTurnAppendsRowPerTurn(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("opener", "첫 번째 답변", "두 번째 답변")
	d, store := newTestDriver(t, client)
	sess := chattingSession(t, d, client)

	if _, err := d.SendTurn(context.Background(), sess, "조용한 곳 추천해줘", nil); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if _, err := d.SendTurn(context.Background(), sess, "예산은 적게", nil); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	rows, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for i, row := range rows {
		if row.Score != transcript.ScoreUnrated {
			t.Errorf("row %d score = %q, want %q", i, row.Score, transcript.ScoreUnrated)
		}
	}

	// Each row is cumulative: the later one contains the full dialogue so far.
	if !strings.Contains(rows[1].Conversation, "[User] 조용한 곳 추천해줘\n") ||
		!strings.Contains(rows[1].Conversation, "[AI] 두 번째 답변\n") {
		t.Errorf("second row not cumulative: %q", rows[1].Conversation)
	}
}

func TestSendTurnFailureKeepsUserMessage(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("opener")
	d, store := newTestDriver(t, client)
	sess := chattingSession(t, d, client)

	client.session.sendErr = fmt.Errorf("model unavailable")

	if _, err := d.SendTurn(context.Background(), sess, "lost turn?", nil); err == nil {
		t.Fatal("SendTurn succeeded, want error")
	}

	msgs := sess.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (opener + user)", len(msgs))
	}
	if msgs[1].Role != session.RoleUser || msgs[1].Content != "lost turn?" {
		t.Errorf("user message not retained: %+v", msgs[1])
	}

	rows, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("failed turn wrote %d rows, want 0", len(rows))
	}

	// The conversation stays resumable.
	client.session.sendErr = nil
	if _, err := d.SendTurn(context.Background(), sess, "retry", nil); err != nil {
		t.Fatalf("retry turn failed: %v", err)
	}
}

func TestSendTurnBeforeOpenFails(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("hi")
	d, _ := newTestDriver(t, client)
	sess := session.New("s")
	_ = d.SubmitProfile(context.Background(), sess, session.Profile{AgeGender: "a", Location: "b"})

	if _, err := d.SendTurn(context.Background(), sess, "hello", nil); !errors.Is(err, curator.ErrChatNotOpen) {
		t.Fatalf("got error %v, want ErrChatNotOpen", err)
	}
}

func TestSendTurnForwardsAttachment(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("opener", "이미지를 봤어요")
	d, _ := newTestDriver(t, client)
	sess := chattingSession(t, d, client)

	att := &curator.Attachment{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
	reply, err := d.SendTurn(context.Background(), sess, "이 장소 어때?", att)
	if err != nil {
		t.Fatalf("SendTurn with attachment failed: %v", err)
	}
	if reply != "이미지를 봤어요" {
		t.Errorf("reply = %q", reply)
	}
	if !client.session.imageSent {
		t.Error("attachment was not forwarded as an image turn")
	}
}

func TestSubmitFeedback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		score   int
		wantErr error
	}{
		{name: "minimum score", score: 1},
		{name: "maximum score", score: 5},
		{name: "zero rejected", score: 0, wantErr: curator.ErrInvalidScore},
		{name: "six rejected", score: 6, wantErr: curator.ErrInvalidScore},
		{name: "negative rejected", score: -3, wantErr: curator.ErrInvalidScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newScriptedClient("opener", "답변")
			d, store := newTestDriver(t, client)
			sess := chattingSession(t, d, client)
			if _, err := d.SendTurn(context.Background(), sess, "질문", nil); err != nil {
				t.Fatalf("turn failed: %v", err)
			}
			if err := d.EndChat(context.Background(), sess); err != nil {
				t.Fatalf("EndChat failed: %v", err)
			}

			err := d.SubmitFeedback(context.Background(), sess, tt.score)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got error %v, want %v", err, tt.wantErr)
				}
				if sess.Step() != session.StepRating {
					t.Error("session cleared despite rejected score")
				}
				return
			}
			if err != nil {
				t.Fatalf("SubmitFeedback failed: %v", err)
			}

			if sess.Step() != session.StepCollectingProfile {
				t.Errorf("session not reset after feedback: step=%q", sess.Step())
			}

			rows, err := store.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			last := rows[len(rows)-1]
			if last.Score != fmt.Sprintf("%d", tt.score) {
				t.Errorf("final row score = %q, want %d", last.Score, tt.score)
			}
		})
	}
}

func TestSubmitFeedbackBeforeRatingFails(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("opener")
	d, _ := newTestDriver(t, client)
	sess := chattingSession(t, d, client)

	if err := d.SubmitFeedback(context.Background(), sess, 4); !errors.Is(err, session.ErrWrongStep) {
		t.Fatalf("got error %v, want ErrWrongStep", err)
	}
}

func TestRenderTranscript(t *testing.T) {
	t.Parallel()

	got := curator.RenderTranscript([]session.Message{
		{Role: session.RoleAssistant, Content: "안녕하세요"},
		{Role: session.RoleUser, Content: "반가워요"},
		{Role: session.RoleAssistant, Content: "추천을 시작할게요"},
	})
	want := "[AI] 안녕하세요\n[User] 반가워요\n[AI] 추천을 시작할게요\n"
	if got != want {
		t.Errorf("RenderTranscript:\ngot:  %q\nwant: %q", got, want)
	}

	if curator.RenderTranscript(nil) != "" {
		t.Error("empty message list should render empty")
	}
}

func TestFullSurveyScenario(t *testing.T) {
	t.Parallel()

	client := newScriptedClient("무엇을 도와드릴까요?", "북카페는 어떠세요?", "망원동 쪽이 좋아요")
	d, store := newTestDriver(t, client)

	ctx := context.Background()
	sess := session.New("visitor")

	if err := d.SubmitProfile(ctx, sess, session.Profile{
		AgeGender: "20대 여성", Location: "서울", Budget: "3만원 이하", Companion: "친구",
	}); err != nil {
		t.Fatalf("SubmitProfile failed: %v", err)
	}
	if _, err := d.OpenChat(ctx, sess); err != nil {
		t.Fatalf("OpenChat failed: %v", err)
	}
	if _, err := d.SendTurn(ctx, sess, "조용한 데이트 코스 추천해줘", nil); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	if _, err := d.SendTurn(ctx, sess, "어느 동네가 좋을까?", nil); err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	if err := d.EndChat(ctx, sess); err != nil {
		t.Fatalf("EndChat failed: %v", err)
	}
	if err := d.SubmitFeedback(ctx, sess, 5); err != nil {
		t.Fatalf("SubmitFeedback failed: %v", err)
	}

	rows, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	// Two per-turn rows plus the final rated row.
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	final := rows[2]
	if final.Score != "5" {
		t.Errorf("final score = %q, want 5", final.Score)
	}
	wantConv := "[AI] 무엇을 도와드릴까요?\n" +
		"[User] 조용한 데이트 코스 추천해줘\n" +
		"[AI] 북카페는 어떠세요?\n" +
		"[User] 어느 동네가 좋을까?\n" +
		"[AI] 망원동 쪽이 좋아요\n"
	if final.Conversation != wantConv {
		t.Errorf("final conversation:\ngot:  %q\nwant: %q", final.Conversation, wantConv)
	}
}
