package processing

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dirjobs/internal/jobstore"
	"dirjobs/internal/services"
)

// VideoExtensions lists the input container formats a job can refer to.
var VideoExtensions = []string{"y4m", "yuv", "mov", "mkv", "avi"}

// VideoID returns the job name prefix before the first underscore.
func VideoID(jobName string) string {
	id, _, _ := strings.Cut(jobName, "_")
	return id
}

// VideoFilter admits jobs whose source video is present in videoDir.
func VideoFilter(videoDir string) jobstore.Filter {
	return func(_ string, name string) bool {
		id := VideoID(name)
		if id == "" {
			return false
		}
		for _, ext := range VideoExtensions {
			if _, err := os.Stat(filepath.Join(videoDir, id+"."+ext)); err == nil {
				return true
			}
		}
		return false
	}
}

// AcceptAll admits every job; used when inputs are not staged locally.
var AcceptAll jobstore.Filter = jobstore.AcceptAll

// ListVideos returns the video IDs available in videoDir, skipping hidden
// files.
func ListVideos(videoDir string) ([]string, error) {
	entries, err := os.ReadDir(videoDir)
	if err != nil {
		return nil, fmt.Errorf("read video dir: %w", err)
	}
	videos := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		videos = append(videos, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(videos)
	return videos, nil
}

// CheckVideoNames fails when a video file name contains an underscore, since
// the job name prefix up to the first underscore identifies the video.
func CheckVideoNames(videoDir string) error {
	entries, err := os.ReadDir(videoDir)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "processing", "read video dir", videoDir, err)
	}
	var offending []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if strings.Contains(entry.Name(), "_") {
			offending = append(offending, entry.Name())
		}
	}
	if len(offending) > 0 {
		sort.Strings(offending)
		return fmt.Errorf("%w: video names must not contain '_': %s",
			services.ErrConfiguration, strings.Join(offending, ", "))
	}
	return nil
}
