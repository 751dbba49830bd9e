package downloader

import (
	"context"
	"fmt"
	"os"

	"github.com/lrstanley/go-ytdlp"

	"vidbot/internal/config"
)

// YTDLPFetcher downloads media by shelling out to yt-dlp through the
// go-ytdlp wrapper. It is the single blocking operation in the
// pipeline; the yt-dlp process is killed when ctx is done.
type YTDLPFetcher struct {
	outputDir     string
	defaultFormat string
	restrictNames bool
}

// NewYTDLPFetcher creates a fetcher writing artifacts under
// cfg.OutputDir.
func NewYTDLPFetcher(cfg config.DownloaderConfig) *YTDLPFetcher {
	dir := cfg.OutputDir
	if dir == "" {
		dir = os.TempDir()
	}
	return &YTDLPFetcher{
		outputDir:     dir,
		defaultFormat: cfg.DefaultFormat,
		restrictNames: cfg.RestrictNames,
	}
}

// Fetch runs one download attempt. The returned error is raw backend
// detail; classification happens at the worker-pool boundary.
func (f *YTDLPFetcher) Fetch(ctx context.Context, sourceURL, format string) (ArtifactRef, error) {
	if format == "" {
		format = f.defaultFormat
	}

	dl := ytdlp.New().
		ForceOverwrites().
		Output(f.outputDir + "/%(title)s.%(ext)s")
	if f.restrictNames {
		dl = dl.RestrictFilenames()
	}
	if format != "" {
		dl = dl.Format(format)
	}

	result, err := dl.Run(ctx, sourceURL)
	if err != nil {
		return ArtifactRef{}, err
	}

	ref := ArtifactRef{}
	info, err := result.GetExtractedInfo()
	if err == nil && len(info) > 0 {
		if info[0].Filename != nil {
			ref.Path = *info[0].Filename
		}
		if info[0].Title != nil {
			ref.Title = *info[0].Title
		}
	}
	if ref.Path == "" {
		return ArtifactRef{}, fmt.Errorf("yt-dlp reported no output file for %s", sourceURL)
	}
	if st, err := os.Stat(ref.Path); err == nil {
		ref.SizeBytes = st.Size()
	}
	return ref, nil
}
