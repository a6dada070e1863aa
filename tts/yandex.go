package tts

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	ttsv3 "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
)

const (
	YandexTTSEndpoint = "tts.api.cloud.yandex.net:443"
)

type YandexConfig struct {
	ApiKey   string
	FolderID string
	// Endpoint overrides YandexTTSEndpoint.
	Endpoint string
}

type YandexTTSClient struct {
	client   ttsv3.SynthesizerClient
	conn     *grpc.ClientConn
	apiKey   string
	folderID string
}

// Ensure YandexTTSClient implements Synthesizer interface
var _ Synthesizer = (*YandexTTSClient)(nil)

func GetDefaultSynthesisOptions() SynthesisOptions {
	return SynthesisOptions{
		Voice:      "marina",
		Speed:      1.0,
		Volume:     0.0,
		Model:      "general",
		Format:     FormatPCM,
		SampleRate: DefaultSampleRate,
	}
}

func NewYandexTTSClient(config YandexConfig) (*YandexTTSClient, error) {
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = YandexTTSEndpoint
	}

	creds := credentials.NewTLS(&tls.Config{})

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS service: %w", err)
	}

	return &YandexTTSClient{
		client:   ttsv3.NewSynthesizerClient(conn),
		conn:     conn,
		apiKey:   config.ApiKey,
		folderID: config.FolderID,
	}, nil
}

func (c *YandexTTSClient) SynthesizeToStreamWithContext(ctx context.Context, text string, options SynthesisOptions, audioData chan<- []byte) error {
	defer close(audioData)

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Api-Key "+c.apiKey)
	ctx = metadata.AppendToOutgoingContext(ctx, "x-folder-id", c.folderID)

	stream, err := c.client.UtteranceSynthesis(ctx, c.buildRequest(text, options))
	if err != nil {
		return fmt.Errorf("failed to start synthesis: %w", err)
	}

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to receive audio data: %w", err)
		}

		if audioChunk := resp.GetAudioChunk(); audioChunk != nil && len(audioChunk.GetData()) > 0 {
			select {
			case audioData <- audioChunk.GetData():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *YandexTTSClient) buildRequest(text string, options SynthesisOptions) *ttsv3.UtteranceSynthesisRequest {
	req := &ttsv3.UtteranceSynthesisRequest{}
	req.SetModel(options.Model)
	req.SetText(text)

	var hints []*ttsv3.Hints
	if options.Voice != "" {
		voiceHint := &ttsv3.Hints{}
		voiceHint.SetVoice(options.Voice)
		hints = append(hints, voiceHint)
	}
	if options.Speed > 0 {
		speedHint := &ttsv3.Hints{}
		speedHint.SetSpeed(options.Speed)
		hints = append(hints, speedHint)
	}
	if options.Volume != 0 {
		volumeHint := &ttsv3.Hints{}
		volumeHint.SetVolume(options.Volume)
		hints = append(hints, volumeHint)
	}
	req.SetHints(hints)

	audioSpec := &ttsv3.AudioFormatOptions{}
	switch options.Format {
	case FormatMP3:
		containerAudio := &ttsv3.ContainerAudio{}
		containerAudio.SetContainerAudioType(ttsv3.ContainerAudio_MP3)
		audioSpec.SetContainerAudio(containerAudio)
	default:
		rawAudio := &ttsv3.RawAudio{}
		rawAudio.SetAudioEncoding(ttsv3.RawAudio_LINEAR16_PCM)
		rawAudio.SetSampleRateHertz(int64(options.sampleRate()))
		audioSpec.SetRawAudio(rawAudio)
	}
	req.SetOutputAudioSpec(audioSpec)

	req.SetLoudnessNormalizationType(ttsv3.UtteranceSynthesisRequest_LUFS)

	return req
}

func (c *YandexTTSClient) Close() error {
	return c.conn.Close()
}
