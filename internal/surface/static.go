package surface

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/printbridge/gateway/internal/errors"
	"github.com/printbridge/gateway/internal/sysinfo"
)

type fileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Modified int64  `json:"modified"`
}

func (s *Surface) handleFilesList(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.FilesRoot)
	if err != nil {
		writeHTTPError(w, apperrors.Internal("failed to list files", err))
		return
	}

	files := make([]fileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			Filename: entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime().Unix(),
		})
	}

	result, _ := json.Marshal(files)
	writeHTTPResult(w, result, nil)
}

func (s *Surface) resolveFilePath(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsRune(name, os.PathSeparator) {
		return "", apperrors.BadRequest("invalid filename")
	}
	return filepath.Join(s.cfg.FilesRoot, name), nil
}

func (s *Surface) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, err := s.resolveFilePath(name)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeHTTPError(w, apperrors.NotFound(name))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	_, _ = io.Copy(w, f)
}

func (s *Surface) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, err := s.resolveFilePath(name)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	if err := os.Remove(path); err != nil {
		writeHTTPError(w, apperrors.NotFound(name))
		return
	}
	s.broadcastFilelistChanged()
	writeHTTPResult(w, json.RawMessage(`"ok"`), nil)
}

// handleFileUpload implements spec.md §4.7's upload contract: multipart
// field "file", optional "print" field; "print"=="true" issues a
// print-start via the multiplexer after the write completes.
func (s *Surface) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 30); err != nil {
		writeHTTPError(w, apperrors.BadRequest("failed to parse upload: "+err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeHTTPError(w, apperrors.BadRequest("no file field in upload"))
		return
	}
	defer file.Close()

	basename := filepath.Base(header.Filename)
	path, err := s.resolveFilePath(basename)
	if err != nil {
		writeHTTPError(w, err)
		return
	}

	dst, err := os.Create(path)
	if err != nil {
		writeHTTPError(w, apperrors.Internal("failed to create file", err))
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeHTTPError(w, apperrors.Internal("failed to write file", err))
		return
	}
	dst.Close()

	s.broadcastFilelistChanged()

	if r.FormValue("print") == "true" {
		handle := NewHTTPOnceHandle()
		if _, err := s.submitter.Submit("/printer/print/start", map[string]interface{}{"filename": basename}, handle); err != nil {
			s.logger.Warn().Err(err).Str("filename", basename).Msg("failed to submit print-start after upload")
		} else {
			go handle.Wait(make(chan struct{}))
		}
	}

	result, _ := json.Marshal(map[string]string{"filename": basename})
	writeHTTPResult(w, result, nil)
}

func (s *Surface) handleLogDownload(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if path == "" {
			writeHTTPError(w, apperrors.NotFound("log file"))
			return
		}
		f, err := os.Open(path)
		if err != nil {
			writeHTTPError(w, apperrors.NotFound("log file"))
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.Copy(w, f)
	}
}

func (s *Surface) handleTemperatureStore(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]float64)
	for _, sensor := range s.temps.Sensors() {
		out[sensor] = s.temps.Samples(sensor)
	}
	result, _ := json.Marshal(out)
	writeHTTPResult(w, result, nil)
}

// printerInfo is spec.md §6's GET /printer/info result shape, with
// uptime_seconds supplemented from original_source/ (dropped by the
// distillation, but present in the real Moonraker-style host).
type printerInfo struct {
	Version       string  `json:"version"`
	CPU           float64 `json:"cpu"`
	Hostname      string  `json:"hostname"`
	IsReady       bool    `json:"is_ready"`
	ErrorDetected bool    `json:"error_detected"`
	Message       string  `json:"message"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// handlePrinterInfo combines gateway-local machine facts (sysinfo) with
// the host-link's own connection state; it never goes through the
// multiplexer, since is_ready/error_detected describe the link itself
// rather than anything the host needs to answer.
func (s *Surface) handlePrinterInfo(w http.ResponseWriter, r *http.Request) {
	ready := s.state == nil || s.state.Ready()

	info := printerInfo{
		Version:       s.cfg.Version,
		CPU:           s.cpu.Sample(),
		Hostname:      sysinfo.Hostname(),
		IsReady:       ready,
		ErrorDetected: !ready,
		Message:       infoMessage(ready),
	}
	if uptime, err := sysinfo.Uptime(); err == nil {
		info.UptimeSeconds = uptime.Seconds()
	}

	result, _ := json.Marshal(info)
	writeHTTPResult(w, result, nil)
}

func infoMessage(ready bool) string {
	if ready {
		return "Printer is ready"
	}
	return "Printer is not ready"
}

func (s *Surface) handleAPIKeyGet(w http.ResponseWriter, r *http.Request) {
	key, err := s.keys.Load()
	if err != nil {
		writeHTTPError(w, apperrors.Internal("failed to load api key", err))
		return
	}
	result, _ := json.Marshal(key)
	writeHTTPResult(w, result, nil)
}

// handleAPIKeyRotate implements spec.md §4.6's rotation contract: a
// fresh key atomically replaces the persisted file and takes effect for
// the very next request.
func (s *Surface) handleAPIKeyRotate(w http.ResponseWriter, r *http.Request) {
	key, err := s.keys.Rotate()
	if err != nil {
		writeHTTPError(w, apperrors.Internal("failed to rotate api key", err))
		return
	}
	result, _ := json.Marshal(key)
	writeHTTPResult(w, result, nil)
}

// handleOneShotToken implements spec.md §4.6: requires trusted-client
// status, preventing token farming via a valid API key alone.
func (s *Surface) handleOneShotToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok || !principal.Trusted {
		writeHTTPError(w, apperrors.Forbidden("one-shot token issuance requires trusted-client status"))
		return
	}
	token, err := s.oneshot.Mint()
	if err != nil {
		writeHTTPError(w, apperrors.Internal("failed to mint one-shot token", err))
		return
	}
	result, _ := json.Marshal(token)
	writeHTTPResult(w, result, nil)
}

// handleMachine invokes a local OS command (not the host) for shutdown
// or reboot, per spec.md §4.7's "invoke local OS commands with sudo,
// not the host".
func (s *Surface) handleMachine(command []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(command) == 0 {
			writeHTTPError(w, apperrors.Internal("machine command not configured", nil))
			return
		}
		go func() {
			cmd := exec.Command(command[0], command[1:]...)
			if err := cmd.Run(); err != nil {
				s.logger.Error().Err(err).Strs("command", command).Msg("machine command failed")
			}
		}()
		writeHTTPResult(w, json.RawMessage(`"ok"`), nil)
	}
}

func (s *Surface) broadcastFilelistChanged() {
	entries, err := os.ReadDir(s.cfg.FilesRoot)
	if err != nil {
		return
	}
	files := make([]fileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{Filename: entry.Name(), Size: info.Size(), Modified: info.ModTime().Unix()})
	}
	payload, _ := json.Marshal(files)
	s.hub.broadcastNotification("notify_filelist_changed", payload)
}
