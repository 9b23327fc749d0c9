// Command streamput uploads a file, standard input or a zstd compressed tar archive of paths
// to a URL as a single chunked HTTP PUT, without staging the body on disk.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/bitrise-io/go-streamupload/archive"
	"github.com/bitrise-io/go-streamupload/httpwriter"
	"github.com/bitrise-io/go-streamupload/input"
	"github.com/bitrise-io/go-streamupload/progress"
)

const uploadIDHeader = "X-Upload-Id"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.NewLogger()
	if err := run(ctx, env.NewRepository(), logger); err != nil {
		logger.Errorf("Upload failed: %s", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, envRepo env.Repository, logger log.Logger) error {
	if err := loadEnvFile(envRepo); err != nil {
		return err
	}
	inputs, err := parseInputs(envRepo)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	stepconf.Print(inputs)
	config, err := createConfig(inputs)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.EnableDebugLog(config.Verbose)

	produce, err := newProducer(config, logger)
	if err != nil {
		return err
	}
	if produce == nil {
		return nil
	}

	uploadID := uuid.NewString()
	headers := map[string]string{uploadIDHeader: uploadID}
	if config.Token != "" {
		headers["Authorization"] = "Bearer " + string(config.Token)
	}
	client := httpwriter.NewHTTPClient(httpwriter.ClientConfig{
		ProbeTimeout:   config.ProbeTimeout,
		ConnectTimeout: config.ConnectTimeout,
		Headers:        headers,
	}, logger)

	logger.Println()
	logger.Infof("Uploading (id: %s)", uploadID)
	return upload(ctx, config, client, produce, logger)
}

func upload(ctx context.Context, config Config, client httpwriter.Client, produce producer, logger log.Logger) error {
	reporter := progress.NewReporter(logger, config.ReportInterval)
	reporter.Start()
	defer reporter.Stop()

	chunkSize := int(config.ChunkSize)
	err := httpwriter.Upload(ctx, string(config.URL), client, reporter, func(w io.Writer) error {
		bw := bufio.NewWriterSize(chunkWriter{w: w, size: chunkSize}, chunkSize)
		if err := produce(ctx, bw); err != nil {
			return err
		}
		return bw.Flush()
	}, httpwriter.WithLogger(logger), httpwriter.WithPipeCapacity(config.PipeCapacity))
	if err != nil {
		if httpwriter.IsLocal(err) {
			return fmt.Errorf("upload aborted: %w", err)
		}
		return err
	}

	logger.Donef("Uploaded %s", units.HumanSizeWithPrecision(float64(reporter.Bytes()), 3))
	return nil
}

// chunkWriter splits every write into pieces of at most size bytes.
// bufio.Writer hands writes larger than its buffer straight through.
type chunkWriter struct {
	w    io.Writer
	size int
}

func (c chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n, err := c.w.Write(p[:min(c.size, len(p))])
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

// producer writes the upload body into w.
type producer func(ctx context.Context, w io.Writer) error

// newProducer returns nil when there is nothing to upload.
func newProducer(config Config, logger log.Logger) (producer, error) {
	if !config.IsArchive() {
		provider := input.NewSourceProvider(config.Source, input.NewGotDownloader(nil), logger)
		return func(ctx context.Context, w io.Writer) error {
			return copySource(ctx, provider, w, logger)
		}, nil
	}

	evaluator := archive.NewPathEvaluator(logger, pathutil.NewPathModifier(), pathutil.NewPathChecker())
	paths, err := evaluator.Evaluate(config.Paths)
	if err != nil {
		return nil, fmt.Errorf("evaluate paths: %w", err)
	}
	if archive.AreAllPathsEmpty(paths) {
		logger.Warnf("The provided paths are all empty, skipping upload")
		return nil, nil
	}
	for _, p := range paths {
		logger.Debugf("Archiving %s", p)
	}

	archiver, err := archive.NewArchiver(logger, config.CompressionLevel)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, w io.Writer) error {
		return archiver.Write(w, paths)
	}, nil
}

func copySource(ctx context.Context, provider input.SourceProvider, w io.Writer, logger log.Logger) error {
	source, err := provider.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warnf("Failed to close upload source: %s", err)
		}
	}()

	if _, err := io.Copy(w, source); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	return nil
}
