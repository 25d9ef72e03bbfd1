package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jvo203/fits-web-ql-sub000/internal/fits"
)

// handleEntry is the dataset entry point. It resolves one or more dataset
// identifiers from the query string, inserts registry placeholders for the
// ones not yet resident (spawning an ingestion worker per insertion), and
// returns the viewer page shell.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	webqlPath := vars["path"]

	query := r.URL.Query()
	dir := query.Get("dir")
	if dir == "" {
		dir = "."
	}
	ext := query.Get("ext")
	if ext == "" {
		ext = "fits"
	}
	flux := query.Get("flux")

	datasetIDs := collectDatasetIDs(query)
	if len(datasetIDs) == 0 {
		writeError(w, http.StatusNotFound, "no filename available")
		return
	}

	composite := false
	if v := query.Get("composite"); v != "" {
		composite, _ = strconv.ParseBool(v)
	}

	s.logger.Printf("path: %s, dir: %s, ext: %s, filename: %v, composite: %v",
		webqlPath, dir, ext, datasetIDs, composite)

	hasFits := true
	for _, id := range datasetIDs {
		cube, inserted := s.registry.GetOrInsertDummy(id, flux)
		if inserted {
			hasFits = false
			path := filepath.Join(dir, id+"."+ext)
			ing := fits.NewIngestor(cube, s.broker, s.cfg.Cache.Dir, nil)
			go func(id, path string) {
				s.logger.Printf("loading FITS data from %s", path)
				if err := ing.LoadFromPath(path); err != nil {
					s.logger.Printf("%s: ingestion failed: %v", id, err)
				}
			}(id, path)
		} else {
			cube.Touch()
			hasFits = hasFits && cube.HasData()
		}
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, viewerPage(webqlPath, datasetIDs, composite, hasFits))
}

// collectDatasetIDs reads either a single "filename" parameter or the
// numbered "filename1", "filename2", ... form used for composite views.
func collectDatasetIDs(query map[string][]string) []string {
	if v, ok := query["filename"]; ok && len(v) > 0 {
		return []string{v[0]}
	}

	var ids []string
	for count := 1; ; count++ {
		v, ok := query[fmt.Sprintf("filename%d", count)]
		if !ok || len(v) == 0 {
			break
		}
		ids = append(ids, v[0])
	}
	return ids
}

// directoryEntry is one row of the /get_directory response.
type directoryEntry struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Size         int64  `json:"size,omitempty"`
	LastModified string `json:"last_modified"`
}

// handleDirectory lists a server-side directory, filtered to sub-directories
// and FITS files, for the dataset picker.
func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			writeError(w, http.StatusNotFound, "home directory not found")
			return
		}
		dir = home
	}

	s.logger.Printf("scanning directory: %s", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("cannot read %s: %v", dir, err))
		return
	}

	contents := make([]directoryEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if entry.IsDir() {
			contents = append(contents, directoryEntry{
				Type:         "dir",
				Name:         name,
				LastModified: info.ModTime().Format(time.ANSIC),
			})
			continue
		}

		ext := strings.ToLower(filepath.Ext(name))
		if ext == ".fits" {
			contents = append(contents, directoryEntry{
				Type:         "file",
				Name:         name,
				Size:         info.Size(),
				LastModified: info.ModTime().Format(time.ANSIC),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"location": dir,
		"contents": contents,
	})
}

// handleMolecules answers the spectral-line query for a dataset. With an
// explicit non-zero frequency range the catalog is consulted directly;
// otherwise the range comes from the cube header, waiting on the cube read
// lock up to the long-poll window (202 when the ingestor still holds it).
func (s *Server) handleMolecules(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	datasetID := query.Get("datasetId")
	if datasetID == "" {
		writeError(w, http.StatusNotFound, "get_molecules/datasetId parameter not found")
		return
	}

	freqStart, _ := strconv.ParseFloat(query.Get("freq_start"), 64)
	freqEnd, _ := strconv.ParseFloat(query.Get("freq_end"), 64)

	s.logger.Printf("[get_molecules] %s: freq_start=%g, freq_end=%g", datasetID, freqStart, freqEnd)

	if freqStart != 0.0 && freqEnd != 0.0 {
		// a user-supplied range bypasses the per-dataset cache
		content := s.broker.QueryMolecules(freqStart, freqEnd)
		writeMolecules(w, content)
		return
	}

	cube, ok := s.registry.Read(datasetID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s not found", datasetID))
		return
	}

	if !cube.TryRLockFor(s.longPoll()) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"message": fmt.Sprintf("%s not available yet", datasetID),
		})
		return
	}
	hasHeader := cube.HasHeader()
	lo, hi := cube.FrequencyRange()
	cube.RUnlock()

	if !hasHeader {
		writeError(w, http.StatusNotFound, "spectral lines not found")
		return
	}

	content := s.broker.Molecules(datasetID)
	if content == "" {
		s.broker.SetFrequencyRange(datasetID, lo, hi)
		content = s.broker.Molecules(datasetID)
	}
	writeMolecules(w, content)
}

// handleWebSocket binds a viewer session to a dataset.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	datasetID := mux.Vars(r)["id"]
	if datasetID == "" {
		writeError(w, http.StatusNotFound, "websocket dataset id missing")
		return
	}
	s.registry.Touch(datasetID)
	s.broker.HandleWebSocket(w, r, datasetID)
}

func writeMolecules(w http.ResponseWriter, content string) {
	if content == "" {
		content = "[]"
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, "{\"molecules\" : %s}", content)
}

// writeError emits the JSON error payload shared by all handlers.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// viewerPage renders the minimal page shell that boots the browser client.
func viewerPage(webqlPath string, datasetIDs []string, composite, hasFits bool) string {
	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	sb.WriteString(fmt.Sprintf("<script src=\"fitswebql.js?%s\"></script>\n", VersionString))
	sb.WriteString("<link rel=\"stylesheet\" href=\"fitswebql.css\"/>\n")
	sb.WriteString("<title>FITSWebQL</title></head><body>\n")

	sb.WriteString(fmt.Sprintf("<div id='votable' style='width: 0; height: 0;' data-va_count='%d' ", len(datasetIDs)))
	if len(datasetIDs) == 1 {
		sb.WriteString(fmt.Sprintf("data-datasetId='%s' ", datasetIDs[0]))
	} else {
		for i, id := range datasetIDs {
			sb.WriteString(fmt.Sprintf("data-datasetId%d='%s' ", i+1, id))
		}
		if composite && len(datasetIDs) <= 3 {
			sb.WriteString("data-composite='1' ")
		}
	}
	sb.WriteString(fmt.Sprintf("data-root-path='/%s/' data-server-version='%s' data-server-string='%s' data-has-fits='%v'></div>\n",
		webqlPath, VersionString, ServerString, hasFits))

	sb.WriteString("<script>mainRenderer();</script>\n")
	sb.WriteString("</body></html>\n")

	return sb.String()
}
