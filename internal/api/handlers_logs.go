package api

import (
	"archive/zip"
	"bufio"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Cadence/internal/config"
	"github.com/mescon/Cadence/internal/logger"
)

// recentLogLines is how many trailing log lines /logs/recent returns.
const recentLogLines = 100

func (s *RESTServer) handleDownloadLogs(c *gin.Context) {
	c.Header("Content-Disposition", "attachment; filename=cadence_logs.zip")
	c.Header("Content-Type", "application/zip")

	zipWriter := zip.NewWriter(c.Writer)
	defer zipWriter.Close()

	logDir := config.Get().LogDir
	err := filepath.Walk(logDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		// Use .txt extension for Windows compatibility
		baseName := filepath.Base(path)
		if strings.HasSuffix(baseName, ".log") {
			baseName = strings.TrimSuffix(baseName, ".log") + ".txt"
		}
		header.Name = baseName
		header.Method = zip.Deflate

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(writer, file)
		return err
	})

	if err != nil {
		logger.Errorf("Failed to zip logs: %v", err)
		return
	}
}

func (s *RESTServer) handleRecentLogs(c *gin.Context) {
	logFile := filepath.Join(config.Get().LogDir, logger.LogFileName)

	file, err := os.Open(logFile)
	if err != nil {
		// If log file doesn't exist yet, return empty array
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, []logger.LogEntry{})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read log file"})
		return
	}
	defer file.Close()

	// Keep a sliding window of the last recentLogLines lines
	lines := make([]string, 0, recentLogLines)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(lines) == recentLogLines {
			lines = lines[1:]
		}
		lines = append(lines, line)
	}

	if err := scanner.Err(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan log file"})
		return
	}

	entries := make([]logger.LogEntry, 0, len(lines))
	for _, line := range lines {
		if entry, ok := parseLogLine(line); ok {
			entries = append(entries, entry)
		}
	}

	c.JSON(http.StatusOK, entries)
}

// parseLogLine splits "timestamp [LEVEL] component: message". The component
// part is optional and never contains spaces.
func parseLogLine(line string) (logger.LogEntry, bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[1], "[") || !strings.HasSuffix(parts[1], "]") {
		return logger.LogEntry{}, false
	}

	entry := logger.LogEntry{
		Timestamp: parts[0],
		Level:     logger.LogLevel(strings.Trim(parts[1], "[]")),
		Message:   parts[2],
	}
	if i := strings.Index(parts[2], ": "); i > 0 && !strings.ContainsAny(parts[2][:i], " []") {
		entry.Component = parts[2][:i]
		entry.Message = parts[2][i+2:]
	}
	return entry, true
}
