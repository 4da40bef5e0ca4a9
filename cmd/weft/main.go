// Command weft is a thin demo CLI: it runs a single hard-coded
// summarization pipeline over every text file under a directory and writes
// the run's artefacts under the -out directory, mirroring the teacher's cmd/demo wiring
// style (construct the pieces by hand, no flag/config framework).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/weftrun/weft/internal/artefact"
	"github.com/weftrun/weft/internal/connector"
	"github.com/weftrun/weft/internal/dispatch"
	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/identity"
	"github.com/weftrun/weft/internal/pipeline"
	"github.com/weftrun/weft/internal/provider"
	"github.com/weftrun/weft/internal/provider/anthropic"
	"github.com/weftrun/weft/internal/provider/bedrock"
	"github.com/weftrun/weft/internal/provider/openai"
	"github.com/weftrun/weft/internal/retry"
	"github.com/weftrun/weft/internal/secret"
	"github.com/weftrun/weft/internal/telemetry"
	"github.com/weftrun/weft/internal/units"
)

func main() {
	root := flag.String("root", ".", "directory to scan for text files")
	out := flag.String("out", "./artefacts", "directory to write run artefacts under")
	model := flag.String("model", "claude-3-5-haiku-latest", "model identifier for the summarize step")
	providerName := flag.String("provider", "anthropic", "provider adapter to dispatch through: anthropic, openai, or bedrock")
	flag.Parse()

	if err := run(context.Background(), *root, *out, *model, *providerName); err != nil {
		fmt.Fprintln(os.Stderr, "weft:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, root, outDir, model, providerName string) error {
	logger := telemetry.NewNoopLogger()
	hasher, err := identity.NewHasher(identity.AlgoBlake2b)
	if err != nil {
		return err
	}

	client, err := buildClient(ctx, providerName, model)
	if err != nil {
		return err
	}

	reg := telemetry.NewRegistry()
	pacer := retry.NewPacer(60000, 60000)
	dispatcher := dispatch.New(client, "weft-demo", reg, retry.DefaultPolicy(), logger, pacer)

	prompts := pipeline.NewPromptRegistry(hasher)
	prompts.Register("summarize", "v1", "inline: Summarize in one sentence:\n\n${chunk.text}")

	runner := &pipeline.Runner{
		Dispatcher:     dispatcher,
		Prompts:        prompts,
		RuntimeContext: dispatch.NewRuntimeContext(os.LookupEnv),
		Logger:         logger,
	}

	docs, unitsIn, err := loadUnits(ctx, hasher, root)
	if err != nil {
		return err
	}
	if len(unitsIn) == 0 {
		fmt.Println("weft: no text files found under", root)
		return nil
	}

	startedAt := time.Now().UTC()
	runID := artefact.RunID(time.Now().UTC(), artefact.NewRandomSuffix())
	result, err := runner.Run(ctx, pipeline.Pipeline{
		Steps: []pipeline.Step{{
			ID:             "summarize",
			PromptTemplate: "summarize#v1",
			OutputName:     "summary",
			Model:          model,
		}},
		Concurrency:     4,
		ContinueOnError: true,
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: runID})
	if err != nil {
		return err
	}

	writer := artefact.NewWriter(outDir, runID)
	outputsPath, err := writer.WriteOutputs(result.OutputRecords)
	if err != nil {
		return err
	}

	status := artefact.ValidateContinueOnErrorStatus(result.UnitsFailed, true)
	record := &artefact.RunRecord{
		RunID:         runID,
		Status:        status,
		StartedAt:     startedAt,
		FinishedAt:    time.Now().UTC(),
		Metrics:       artefact.Metrics{UnitsTotal: len(unitsIn), UnitsEmitted: result.UnitsEmitted, UnitsFailed: result.UnitsFailed},
		StepTelemetry: result.StepTelemetry,
		ArtefactPaths: []string{outputsPath},
	}
	if _, err := writer.WriteRunRecord(record); err != nil {
		return err
	}

	fmt.Printf("weft: run %s %s (%d/%d units emitted)\n", runID, status, result.UnitsEmitted, len(unitsIn))
	for _, rec := range result.OutputRecords {
		if summary, ok := rec.StepOutputs["summary"]; ok {
			fmt.Printf("  %s: %v\n", rec.UnitID, summary)
		}
	}
	return nil
}

// buildClient selects a provider adapter by name, falling back to an
// offline stub when the adapter's credentials aren't configured so the
// demo still runs without them.
func buildClient(ctx context.Context, providerName, model string) (provider.Client, error) {
	switch providerName {
	case "openai":
		cache := secret.NewCache(secret.NewEnvProvider(map[string]string{"openai_api_key": "OPENAI_API_KEY"}), secret.NewRedactor())
		apiKey, err := cache.Resolve("openai_api_key")
		if err != nil {
			return &stubClient{}, nil
		}
		return openai.NewFromAPIKey(apiKey, model)
	case "bedrock":
		cl, err := bedrock.NewFromDefaultConfig(ctx, model)
		if err != nil {
			return &stubClient{}, nil
		}
		return cl, nil
	default:
		cache := secret.NewCache(secret.NewEnvProvider(map[string]string{"anthropic_api_key": "ANTHROPIC_API_KEY"}), secret.NewRedactor())
		apiKey, err := cache.Resolve("anthropic_api_key")
		if err != nil {
			return &stubClient{}, nil
		}
		return anthropic.NewFromAPIKey(apiKey, model)
	}
}

// stubClient echoes a truncated prefix of the prompt back as its
// completion, standing in for a real provider when no credentials are
// configured.
type stubClient struct{}

func (stubClient) SupportsStreaming() bool { return false }

func (stubClient) Complete(ctx context.Context, req provider.Request) (provider.Completion, error) {
	text := ""
	if len(req.Messages) > 0 && len(req.Messages[0].Content) > 0 {
		text = req.Messages[0].Content[0].Text
	}
	if len(text) > 80 {
		text = text[:80] + "..."
	}
	return provider.Completion{Text: "[offline demo] " + text}, nil
}

func (stubClient) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	return nil, provider.ErrStreamingUnsupported
}

func loadUnits(ctx context.Context, hasher *identity.Hasher, root string) (map[string]units.Document, []units.ExecutionUnit, error) {
	conn := connector.NewFSConnector(root)
	it, err := conn.List(ctx, []string{"*.txt", "*.md"})
	if err != nil {
		return nil, nil, errs.Wrap(errs.Connector, err, "list %s", root)
	}
	defer it.Close()

	docs := make(map[string]units.Document)
	var unitsOut []units.ExecutionUnit

	for {
		res, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errs.Wrap(errs.Connector, err, "iterate %s", root)
		}

		rc, err := conn.Open(ctx, res)
		if err != nil {
			return nil, nil, errs.Wrap(errs.Connector, err, "open %s", res.URI)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, nil, errs.Wrap(errs.Connector, err, "read %s", res.URI)
		}

		canonical := identity.CanonicalizeText(string(raw))
		doc := units.Document{
			ID:        hasher.DocumentID(res.URI, res.Mime, []byte(canonical)),
			SourceURI: res.URI,
			Text:      canonical,
		}
		docs[doc.ID] = doc

		chunks := units.Chunks(hasher, doc, units.ChunkOptions{Splitter: units.SplitByParagraph, MaxTokens: 200, Overlap: 20})
		for _, c := range chunks {
			chunk := c
			unitsOut = append(unitsOut, units.ExecutionUnit{
				Kind:      units.KindChunk,
				Chunk:     &chunk,
				DocID:     doc.ID,
				SourceURI: doc.SourceURI,
				Index:     len(unitsOut),
			})
		}
	}

	return docs, unitsOut, nil
}
