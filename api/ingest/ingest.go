// Package ingest turns uploads and remote URLs into fingerprinted temp files
// ready for transcription.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"audioTranscriber/api/fetch"
	"audioTranscriber/api/fingerprint"
	"audioTranscriber/api/validation"
)

// Input is audio persisted to the temp directory. Whoever holds it either
// hands Path over to the dispatcher or calls Discard.
type Input struct {
	Fingerprint string
	Path        string
	Filename    string
	Size        int64
	FileType    validation.FileType

	logger *zap.Logger
}

// Discard removes the temp file.
func (in *Input) Discard() {
	if in == nil || in.Path == "" {
		return
	}
	if err := os.Remove(in.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		in.logger.Warn("Failed to remove temp file", zap.String("path", in.Path), zap.Error(err))
	}
}

type Ingestor struct {
	tempDir     string
	maxFileSize int64
	fetcher     *fetch.Client
	logger      *zap.Logger
}

func New(tempDir string, maxFileSize int64, fetcher *fetch.Client, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		tempDir:     tempDir,
		maxFileSize: maxFileSize,
		fetcher:     fetcher,
		logger:      logger,
	}
}

// FromUpload validates the leading bytes of r, then streams it to a temp file
// while hashing it.
func (i *Ingestor) FromUpload(ctx context.Context, filename string, r io.Reader) (*Input, error) {
	filename = validation.SanitizeFilename(filename)

	br := bufio.NewReaderSize(r, validation.SniffLen)
	head, err := br.Peek(validation.SniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	fileType, err := validation.ValidateAudio(filename, head)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(i.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = "." + string(fileType)
	}

	f, err := os.CreateTemp(i.tempDir, "upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	in := &Input{Path: f.Name(), Filename: filename, FileType: fileType, logger: i.logger}

	size, sum, err := i.copy(ctx, f, br)
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("close temp file: %w", closeErr)
	}
	if err != nil {
		in.Discard()
		return nil, err
	}

	in.Size = size
	in.Fingerprint = sum

	i.logger.Debug("Audio stored",
		zap.String("path", in.Path),
		zap.String("filename", filename),
		zap.String("file_type", string(fileType)),
		zap.Int64("size", size),
		zap.String("fingerprint", sum),
	)

	return in, nil
}

func (i *Ingestor) copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, string, error) {
	digest := fingerprint.NewWriter()
	w := io.MultiWriter(dst, digest)

	if i.maxFileSize > 0 {
		src = io.LimitReader(src, i.maxFileSize+1)
	}

	n, err := io.Copy(w, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return n, "", fmt.Errorf("store upload: %w", err)
	}
	if i.maxFileSize > 0 && n > i.maxFileSize {
		return n, "", validation.ErrFileTooLarge
	}
	return n, digest.Sum(), nil
}

// FromURL downloads rawURL and stores it like an upload.
func (i *Ingestor) FromURL(ctx context.Context, rawURL string) (*Input, error) {
	dl, err := i.fetcher.Get(ctx, rawURL)
	if errors.Is(err, fetch.ErrTooLarge) {
		return nil, validation.ErrFileTooLarge
	}
	if err != nil {
		return nil, err
	}
	defer dl.Close()

	in, err := i.FromUpload(ctx, dl.Filename, dl.Body)
	if errors.Is(err, fetch.ErrTooLarge) {
		return nil, validation.ErrFileTooLarge
	}
	return in, err
}

// ctxReader stops a long copy once the request is gone.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
