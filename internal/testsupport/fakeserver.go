package testsupport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// Known parameter names the server always asks for.
const (
	ParamCorpus         = "labbcat_corpus"
	ParamEpisode        = "labbcat_episode"
	ParamTranscriptType = "labbcat_transcript_type"
)

// FakeTranscript is a transcript stored on the FakeServer.
type FakeTranscript struct {
	Corpus         string
	Episode        string
	TranscriptType string
}

type fakeUpload struct {
	name  string
	merge bool
	media []string
}

type fakeTask struct {
	transcript string
	polls      int
}

// FakeServer is an in-memory corpus server speaking the ingestion API over
// httptest. Failures and slow paths are injected per transcript file name.
type FakeServer struct {
	*httptest.Server

	mu            sync.Mutex
	corpora       []string
	types         []string
	tracks        []map[string]string
	deserializers []map[string]any
	extraParams   []map[string]any
	taskPolls     int

	transcripts map[string]FakeTranscript
	uploads     map[string]*fakeUpload
	tasks       map[string]*fakeTask
	nextID      int

	failUpload map[string]string
	failSubmit map[string]string
	failDelete map[string]string
	failTask   map[string]string

	uploadGate    chan struct{}
	onUploadStart func(string)

	uploadOrder []string
	submitted   map[string]url.Values
	deleted     []string
	lookups     int
	requests    []string
}

// NewFakeServer starts a FakeServer that is closed when the test ends.
func NewFakeServer(t testing.TB) *FakeServer {
	t.Helper()

	fs := &FakeServer{
		corpora: []string{"CorpusA", "CorpusX"},
		types:   []string{"interview", "reading"},
		tracks: []map[string]string{
			{"suffix": "", "description": "Audio"},
			{"suffix": "_face", "description": "Face camera"},
		},
		deserializers: []map[string]any{
			{"name": "ELAN", "mimeType": "text/x-eaf+xml", "fileSuffixes": []string{"eaf"}, "version": "1.0"},
			{"name": "Transcriber", "mimeType": "text/xml-transcriber", "fileSuffixes": []string{"trs"}, "version": "1.0"},
			{"name": "Praat", "mimeType": "text/praat-textgrid", "fileSuffixes": []string{"textgrid"}, "version": "1.0"},
			{"name": "CSV", "mimeType": "text/csv", "fileSuffixes": []string{"csv"}, "version": "1.0"},
		},
		taskPolls:   1,
		transcripts: map[string]FakeTranscript{},
		uploads:     map[string]*fakeUpload{},
		tasks:       map[string]*fakeTask{},
		failUpload:  map[string]string{},
		failSubmit:  map[string]string{},
		failDelete:  map[string]string{},
		failTask:    map[string]string{},
		submitted:   map[string]url.Values{},
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(fs.Close)
	return fs
}

// AddTranscript stores a transcript as if it had been uploaded earlier.
func (fs *FakeServer) AddTranscript(name string, attrs FakeTranscript) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.transcripts[name] = attrs
}

// Transcript reports a stored transcript.
func (fs *FakeServer) Transcript(name string) (FakeTranscript, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	t, ok := fs.transcripts[name]
	return t, ok
}

// FailUpload makes uploads of the named transcript fail with message.
func (fs *FakeServer) FailUpload(name, message string) { fs.setFailure(fs.failUpload, name, message) }

// FailSubmit makes parameter submission for the named transcript fail.
func (fs *FakeServer) FailSubmit(name, message string) { fs.setFailure(fs.failSubmit, name, message) }

// FailDelete makes deleting the named transcript fail.
func (fs *FakeServer) FailDelete(name, message string) { fs.setFailure(fs.failDelete, name, message) }

// FailTask makes the processing task of the named transcript finish with an error.
func (fs *FakeServer) FailTask(name, message string) { fs.setFailure(fs.failTask, name, message) }

// ClearFailures removes every injected failure.
func (fs *FakeServer) ClearFailures() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	clear(fs.failUpload)
	clear(fs.failSubmit)
	clear(fs.failDelete)
	clear(fs.failTask)
}

func (fs *FakeServer) setFailure(m map[string]string, name, message string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	m[name] = message
}

// SetTaskPolls sets how many polls report a task running before it finishes.
func (fs *FakeServer) SetTaskPolls(n int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.taskPolls = n
}

// AddParameter makes every upload ask for an extra parameter.
func (fs *FakeServer) AddParameter(name, label, value string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.extraParams = append(fs.extraParams, map[string]any{"name": name, "label": label, "value": value, "type": "string"})
}

// BlockUploads holds every upload request until the returned release func is
// called. The started channel receives the transcript name of each held upload.
func (fs *FakeServer) BlockUploads() (started <-chan string, release func()) {
	gate := make(chan struct{})
	ch := make(chan string, 16)
	fs.mu.Lock()
	fs.uploadGate = gate
	fs.onUploadStart = func(name string) { ch <- name }
	fs.mu.Unlock()
	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

// UploadOrder lists transcript names in the order uploads were received.
func (fs *FakeServer) UploadOrder() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.uploadOrder...)
}

// Submitted returns the parameter form posted for the named transcript.
func (fs *FakeServer) Submitted(name string) url.Values {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.submitted[name]
}

// Deleted lists transcripts removed through the API, in order.
func (fs *FakeServer) Deleted() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.deleted...)
}

// Lookups counts transcript attribute queries.
func (fs *FakeServer) Lookups() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.lookups
}

// Requests lists "METHOD path" for every request served.
func (fs *FakeServer) Requests() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.requests...)
}

func (fs *FakeServer) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	fs.mu.Lock()
	fs.requests = append(fs.requests, r.Method+" "+path)
	fs.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && path == "api/store/getCorpusIds":
		fs.mu.Lock()
		corpora := append([]string(nil), fs.corpora...)
		fs.mu.Unlock()
		writeModel(w, corpora)
	case r.Method == http.MethodGet && path == "api/store/getLayer":
		fs.serveLayer(w, r)
	case r.Method == http.MethodGet && path == "api/store/getMediaTracks":
		writeModel(w, fs.tracks)
	case r.Method == http.MethodGet && path == "api/store/getDeserializerDescriptors":
		writeModel(w, fs.deserializers)
	case r.Method == http.MethodGet && path == "api/store/getTranscriptAttributes":
		fs.serveAttributes(w, r)
	case r.Method == http.MethodPost && path == "api/edit/transcript/upload":
		fs.serveUpload(w, r)
	case r.Method == http.MethodPut && strings.HasPrefix(path, "api/edit/transcript/upload/"):
		fs.serveSubmit(w, r, strings.TrimPrefix(path, "api/edit/transcript/upload/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "api/task/"):
		fs.serveTask(w, strings.TrimPrefix(path, "api/task/"))
	case r.Method == http.MethodPost && path == "api/edit/store/deleteTranscript":
		fs.serveDelete(w, r)
	default:
		writeErrors(w, http.StatusNotFound, "no such endpoint: "+path)
	}
}

func (fs *FakeServer) serveLayer(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("id") != "transcript_type" {
		writeErrors(w, http.StatusNotFound, "unknown layer")
		return
	}
	fs.mu.Lock()
	types := append([]string(nil), fs.types...)
	fs.mu.Unlock()

	// validLabels is an object; build it by hand to keep declaration order.
	var labels bytes.Buffer
	labels.WriteByte('{')
	for i, label := range types {
		if i > 0 {
			labels.WriteByte(',')
		}
		key, _ := json.Marshal(label)
		labels.Write(key)
		labels.WriteByte(':')
		labels.Write(key)
	}
	labels.WriteByte('}')
	writeModel(w, map[string]any{"id": "transcript_type", "validLabels": json.RawMessage(labels.Bytes())})
}

func (fs *FakeServer) serveAttributes(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	fs.mu.Lock()
	fs.lookups++
	t, ok := fs.transcripts[id]
	fs.mu.Unlock()
	if !ok {
		writeErrors(w, http.StatusNotFound, "transcript not found: "+id)
		return
	}
	writeModel(w, map[string]any{
		"id":              id,
		"corpus":          []map[string]string{{"label": t.Corpus}},
		"episode":         []map[string]string{{"label": t.Episode}},
		"transcript_type": []map[string]string{{"label": t.TranscriptType}},
	})
}

func (fs *FakeServer) serveUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErrors(w, http.StatusBadRequest, "bad multipart body: "+err.Error())
		return
	}
	files := r.MultipartForm.File["transcript"]
	if len(files) != 1 {
		writeErrors(w, http.StatusBadRequest, "transcript part missing")
		return
	}
	name := files[0].Filename

	var media []string
	for field, headers := range r.MultipartForm.File {
		if !strings.HasPrefix(field, "media") {
			continue
		}
		for _, h := range headers {
			media = append(media, field+":"+h.Filename)
		}
	}

	fs.mu.Lock()
	fs.uploadOrder = append(fs.uploadOrder, name)
	gate := fs.uploadGate
	notify := fs.onUploadStart
	fs.mu.Unlock()
	if gate != nil {
		if notify != nil {
			notify(name)
		}
		<-gate
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if msg, ok := fs.failUpload[name]; ok {
		writeErrors(w, http.StatusBadRequest, msg)
		return
	}
	fs.nextID++
	id := fmt.Sprintf("upload-%d", fs.nextID)
	fs.uploads[id] = &fakeUpload{name: name, merge: r.FormValue("merge") == "true", media: media}

	params := []map[string]any{
		{"name": ParamCorpus, "label": "Corpus", "type": "select", "required": true, "possibleValues": fs.corpora},
		{"name": ParamEpisode, "label": "Episode", "type": "string", "required": true},
		{"name": ParamTranscriptType, "label": "Type", "type": "select", "required": true, "possibleValues": fs.types},
	}
	params = append(params, fs.extraParams...)
	writeModel(w, map[string]any{"id": id, "parameters": params})
}

func (fs *FakeServer) serveSubmit(w http.ResponseWriter, r *http.Request, uploadID string) {
	if err := r.ParseForm(); err != nil {
		writeErrors(w, http.StatusBadRequest, err.Error())
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	upload, ok := fs.uploads[uploadID]
	if !ok {
		writeErrors(w, http.StatusNotFound, "upload not found: "+uploadID)
		return
	}
	fs.submitted[upload.name] = r.PostForm
	if msg, ok := fs.failSubmit[upload.name]; ok {
		writeErrors(w, http.StatusBadRequest, msg)
		return
	}
	delete(fs.uploads, uploadID)
	fs.transcripts[upload.name] = FakeTranscript{
		Corpus:         r.PostForm.Get(ParamCorpus),
		Episode:        r.PostForm.Get(ParamEpisode),
		TranscriptType: r.PostForm.Get(ParamTranscriptType),
	}
	fs.nextID++
	taskID := fmt.Sprintf("%d", fs.nextID)
	fs.tasks[taskID] = &fakeTask{transcript: upload.name, polls: fs.taskPolls}
	writeModel(w, map[string]any{"transcripts": map[string]any{upload.name: fs.nextID}})
}

func (fs *FakeServer) serveTask(w http.ResponseWriter, taskID string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	task, ok := fs.tasks[taskID]
	if !ok {
		writeErrors(w, http.StatusNotFound, "task not found: "+taskID)
		return
	}
	if task.polls > 0 {
		task.polls--
		writeModel(w, map[string]any{"threadId": taskID, "running": true, "percentComplete": 50, "status": "generating layers"})
		return
	}
	delete(fs.tasks, taskID)
	writeModel(w, map[string]any{
		"threadId":        taskID,
		"running":         false,
		"percentComplete": 100,
		"status":          "finished",
		"error":           fs.failTask[task.transcript],
	})
}

func (fs *FakeServer) serveDelete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErrors(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PostForm.Get("id")
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if msg, ok := fs.failDelete[id]; ok {
		writeErrors(w, http.StatusBadRequest, msg)
		return
	}
	if _, ok := fs.transcripts[id]; !ok {
		writeErrors(w, http.StatusBadRequest, "transcript not found: "+id)
		return
	}
	delete(fs.transcripts, id)
	fs.deleted = append(fs.deleted, id)
	writeModel(w, nil)
}

func writeModel(w http.ResponseWriter, model any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":    "fake",
		"version":  "test",
		"code":     0,
		"errors":   []string{},
		"messages": []string{},
		"model":    model,
	})
}

func writeErrors(w http.ResponseWriter, status int, messages ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":    "fake",
		"version":  "test",
		"code":     1,
		"errors":   messages,
		"messages": []string{},
		"model":    nil,
	})
}
