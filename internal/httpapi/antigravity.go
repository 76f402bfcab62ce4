package httpapi

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/nexus-gateway/llmgateway/internal/protocol"
	"github.com/nexus-gateway/llmgateway/internal/proxy"
	"github.com/nexus-gateway/llmgateway/internal/signature"
	"github.com/nexus-gateway/llmgateway/internal/stream"
)

// AntigravityHandler is the in-process backend C9's ProxyEngine special-cases
// (spec §4.9): rather than looping an HTTP call back through this same
// process, it calls the Gemini SDK directly and runs the response through
// the StreamTransformer (C7) to produce Anthropic-shaped output, grounded
// in the teacher's GoogleProvider.Complete / processStreamResponse.
type AntigravityHandler struct {
	client *genai.Client
	store  *signature.Store
	logger *slog.Logger
}

// NewAntigravityHandler builds a handler bound to an already-constructed
// Gemini client and the C1 signature store it should cache
// thinking/tool-use signatures into as they stream past.
func NewAntigravityHandler(client *genai.Client, store *signature.Store, logger *slog.Logger) *AntigravityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AntigravityHandler{client: client, store: store, logger: logger}
}

// RegisterOn wires this handler into engine for every completion endpoint
// the gateway exposes, under the "antigravity" backend name.
func (h *AntigravityHandler) RegisterOn(engine *proxy.Engine) {
	for _, endpoint := range []string{"/v1/messages", "/antigravity/v1/messages", "/v1/chat/completions", "/antigravity/v1/chat/completions"} {
		engine.RegisterLocalHandler("antigravity", endpoint, h.handle(endpoint))
	}
}

func (h *AntigravityHandler) handle(endpoint string) proxy.LocalHandler {
	return func(ctx context.Context, body []byte, wantsStream bool) (*proxy.Result, error) {
		req, err := decodeRequestForEndpoint(endpoint, body)
		if err != nil {
			return nil, fmt.Errorf("antigravity: decode request: %w", err)
		}

		contents := protocol.ToGeminiContents(req)
		config := &genai.GenerateContentConfig{}
		if req.System != "" {
			config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
		}
		if tools := protocol.ToGeminiTools(req.Tools); len(tools) > 0 {
			config.Tools = tools
		}
		if req.EnableThinking {
			budget := int32(req.ThinkingBudget)
			config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: &budget}
		}

		scid := req.Model // placeholder correlation key when no SCID is available at this layer
		transformer := stream.New(ctx, req.Model, scid, h.store, h.logger)

		streamIter := h.client.Models.GenerateContentStream(ctx, req.Model, contents, config)

		if wantsStream {
			pr, pw := io.Pipe()
			go h.pump(streamIter, transformer, pw)
			return &proxy.Result{StatusCode: http.StatusOK, Stream: pr, IsStream: true}, nil
		}

		var out []byte
		for resp, iterErr := range streamIter {
			if iterErr != nil {
				return nil, fmt.Errorf("antigravity: stream error: %w", iterErr)
			}
			if resp == nil {
				continue
			}
			out = append(out, transformer.ProcessChunk(toGeminiChunk(resp))...)
		}
		out = append(out, transformer.Close()...)
		return &proxy.Result{StatusCode: http.StatusOK, Body: out}, nil
	}
}

func (h *AntigravityHandler) pump(streamIter iter.Seq2[*genai.GenerateContentResponse, error], transformer *stream.Transformer, pw *io.PipeWriter) {
	defer pw.Close()
	for resp, iterErr := range streamIter {
		if iterErr != nil {
			pw.CloseWithError(iterErr)
			return
		}
		if resp == nil {
			continue
		}
		if chunk := transformer.ProcessChunk(toGeminiChunk(resp)); len(chunk) > 0 {
			if _, werr := pw.Write(chunk); werr != nil {
				return
			}
		}
	}
	pw.Write(transformer.Close())
}

// toGeminiChunk converts one SDK response into the StreamTransformer's local
// wire mirror (stream.GeminiChunk), the same shape it decodes from a real
// upstream SSE body.
func toGeminiChunk(resp *genai.GenerateContentResponse) *stream.GeminiChunk {
	chunk := &stream.GeminiChunk{ResponseID: resp.ResponseID}
	if resp.UsageMetadata != nil {
		chunk.UsageMetadata = &stream.GeminiUsageMetadata{
			PromptTokenCount:        int(resp.UsageMetadata.PromptTokenCount),
			CandidatesTokenCount:    int(resp.UsageMetadata.CandidatesTokenCount),
			CachedContentTokenCount: int(resp.UsageMetadata.CachedContentTokenCount),
		}
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		candidate := stream.GeminiCandidate{FinishReason: string(c.FinishReason)}
		if c.Content != nil {
			for _, p := range c.Content.Parts {
				if p == nil {
					continue
				}
				part := stream.GeminiPart{Text: p.Text, Thought: p.Thought, ThoughtSignature: string(p.ThoughtSignature)}
				if p.FunctionCall != nil {
					part.FunctionCall = &stream.GeminiFunctionCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args, ID: p.FunctionCall.ID}
				}
				if p.InlineData != nil {
					part.InlineData = &stream.GeminiInlineData{MimeType: p.InlineData.MIMEType, Data: string(p.InlineData.Data)}
				}
				candidate.Content.Parts = append(candidate.Content.Parts, part)
			}
		}
		chunk.Candidates = append(chunk.Candidates, candidate)
	}
	return chunk
}

// decodeRequestForEndpoint picks the dialect decoder matching the client
// endpoint the request arrived on, so the antigravity handler can be
// registered identically under either API surface.
func decodeRequestForEndpoint(endpoint string, body []byte) (*protocol.Request, error) {
	if strings.Contains(endpoint, "chat/completions") {
		return protocol.FromOpenAIRequest(body)
	}
	return protocol.FromAnthropicRequest(body)
}
