package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/foxseedlab/voicecal/internal/audio"
	"github.com/foxseedlab/voicecal/internal/transcriber"
)

const (
	speechAPIEndpointPort = 443
	globalLocation        = "global"
	cloudPlatformScope    = "https://www.googleapis.com/auth/cloud-platform"
)

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// CloudSpeechTranscriber turns spoken requests into final transcripts. One
// gRPC client is shared by every session and opened on first use.
type CloudSpeechTranscriber struct {
	cfg CloudSpeechConfig

	mu     sync.Mutex
	client *speech.Client
}

var _ transcriber.Transcriber = (*CloudSpeechTranscriber)(nil)

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) *CloudSpeechTranscriber {
	cfg.Location = strings.TrimSpace(cfg.Location)
	if cfg.Location == "" {
		cfg.Location = globalLocation
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	return &CloudSpeechTranscriber{cfg: cfg}
}

func (t *CloudSpeechTranscriber) recognizer() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.cfg.ProjectID, t.cfg.Location)
}

func (t *CloudSpeechTranscriber) speechClient(ctx context.Context) (*speech.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.cfg.CredentialsJSON),
		Scopes:          []string{cloudPlatformScope},
	})
	if err != nil {
		return nil, fmt.Errorf("detect speech credentials: %w", err)
	}
	opts := []option.ClientOption{option.WithAuthCredentials(creds)}
	if t.cfg.Location != globalLocation {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.cfg.Location, speechAPIEndpointPort)))
	}
	// The client outlives the request that first needed it.
	client, err := speech.NewClient(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	t.client = client
	return client, nil
}

// Shutdown closes the shared client. It is called by the DI container.
func (t *CloudSpeechTranscriber) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *CloudSpeechTranscriber) StartStreaming(ctx context.Context, sessionID string, cfg transcriber.StreamConfig, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	cfg = t.withDefaults(cfg)
	client, err := t.speechClient(ctx)
	if err != nil {
		return nil, err
	}
	s := &recognizeStream{
		sessionID: sessionID,
		receiver:  receiver,
		open: func() (speechpb.Speech_StreamingRecognizeClient, error) {
			return t.openStream(ctx, client, cfg)
		},
	}
	stream, err := s.open()
	if err != nil {
		return nil, err
	}
	s.stream = stream
	s.listen(stream)
	slog.Info("speech recognition started",
		"session_id", sessionID,
		"language", cfg.Language,
		"model", t.cfg.Model,
		"sample_rate_hz", cfg.SampleRateHz,
		"channels", cfg.Channels)
	return s, nil
}

func (t *CloudSpeechTranscriber) openStream(ctx context.Context, client *speech.Client, cfg transcriber.StreamConfig) (speechpb.Speech_StreamingRecognizeClient, error) {
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("open recognize stream: %w", err)
	}
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: t.recognizer(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: t.recognitionConfig(cfg),
		},
	})
	if err != nil {
		_ = stream.CloseSend()
		return nil, fmt.Errorf("send recognition config: %w", err)
	}
	return stream, nil
}

// recognitionConfig asks for final results only; each one becomes an
// utterance of the scheduling session.
func (t *CloudSpeechTranscriber) recognitionConfig(cfg transcriber.StreamConfig) *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Model:         t.cfg.Model,
			LanguageCodes: []string{cfg.Language},
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(cfg.SampleRateHz),
					AudioChannelCount: int32(cfg.Channels),
				},
			},
			Features: &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
		},
		StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: false},
	}
}

func (t *CloudSpeechTranscriber) withDefaults(cfg transcriber.StreamConfig) transcriber.StreamConfig {
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = t.cfg.Language
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = audio.SampleRateHz
	}
	if cfg.Channels <= 0 {
		cfg.Channels = audio.Channels
	}
	return cfg
}

// recognizeStream reopens the gRPC stream when the service ends it for
// duration or idleness, so a long conversation keeps one writer.
type recognizeStream struct {
	sessionID string
	receiver  transcriber.ResultReceiver
	open      func() (speechpb.Speech_StreamingRecognizeClient, error)

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	closed bool
}

func (s *recognizeStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: pcm},
	}
	err := s.stream.Send(req)
	if err == nil || !isReconnectableStreamError(err) {
		return err
	}
	slog.Info("speech stream ended by the service; reopening", "session_id", s.sessionID, "error", err)
	_ = s.stream.CloseSend()
	next, err := s.open()
	if err != nil {
		return fmt.Errorf("reopen speech stream: %w", err)
	}
	s.stream = next
	s.listen(next)
	return s.stream.Send(req)
}

func (s *recognizeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.CloseSend()
}

func (s *recognizeStream) listen(stream speechpb.Speech_StreamingRecognizeClient) {
	go func() {
		for {
			resp, err := stream.Recv()
			if err != nil {
				s.finish(err)
				return
			}
			for i, result := range resp.GetResults() {
				alts := result.GetAlternatives()
				if len(alts) == 0 {
					continue
				}
				s.receiver.OnResult(i, alts[0].GetTranscript(), result.GetIsFinal())
			}
		}
	}()
}

func (s *recognizeStream) finish(err error) {
	switch {
	case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled, errors.Is(err, context.Canceled):
		slog.Debug("speech stream closed", "session_id", s.sessionID)
	case isReconnectableStreamError(err):
		// The next Write reopens the stream.
		slog.Debug("speech stream expired", "session_id", s.sessionID, "error", err)
	default:
		s.receiver.OnError(err)
	}
}

func isReconnectableStreamError(err error) bool {
	if errors.Is(err, io.EOF) || strings.Contains(strings.ToLower(err.Error()), "eof") {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
