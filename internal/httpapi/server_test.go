package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"ragserve/internal/adapter/embedding"
	"ragserve/internal/adapter/model"
	"ragserve/internal/adapter/store"
	"ragserve/internal/domain"
	"ragserve/internal/usecase"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	emb := embedding.NewHashedEmbedder(4096)
	st, err := store.Open(filepath.Join(dir, "rag.db"), emb)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	retr := &usecase.Retriever{Store: st, Embedder: emb}
	prep := &usecase.ChatPreparer{
		Retriever: retr,
		Store:     st,
		Enabled:   true,
		Opts:      usecase.RetrieveOptions{TopK: 4, NeighborChunks: 1, ChunkMaxChars: 2000},
	}
	ing := &usecase.Ingester{Store: st, ChunkChars: 512}

	srv := NewServer(st, model.NewScripted("The answer is Paris."), retr, prep, ing, Options{
		UploadsDir:  filepath.Join(dir, "uploads"),
		EmbedDim:    4096,
		GenDefaults: domain.DefaultGenerateConfig(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestRagInfo(t *testing.T) {
	ts, st := newTestServer(t)
	if _, _, err := st.AddDocument("a.txt", "text/plain", "hello world text", 512); err != nil {
		t.Fatal(err)
	}

	var info map[string]any
	if code := getJSON(t, ts.URL+"/rag/info", &info); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if info["ready"] != true || info["enabled"] != true {
		t.Errorf("info = %v", info)
	}
	if info["doc_count"].(float64) != 1 || info["embed_dim"].(float64) != 4096 {
		t.Errorf("info = %v", info)
	}
}

func TestRagDocsListing(t *testing.T) {
	ts, st := newTestServer(t)
	for i := 0; i < 3; i++ {
		if _, _, err := st.AddDocument(fmt.Sprintf("doc%d.txt", i), "text/plain", "some words here", 512); err != nil {
			t.Fatal(err)
		}
	}

	var body struct {
		Docs []struct {
			ID  int64  `json:"id"`
			URL string `json:"url"`
		} `json:"docs"`
	}
	if code := getJSON(t, ts.URL+"/rag/docs?limit=2", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(body.Docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(body.Docs))
	}
	if body.Docs[0].ID != 3 {
		t.Errorf("newest doc first, got id %d", body.Docs[0].ID)
	}
	if body.Docs[0].URL != "/rag/doc/3" {
		t.Errorf("url = %q", body.Docs[0].URL)
	}

	if code := getJSON(t, ts.URL+"/rag/docs?limit=nope", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit should 400, got %d", code)
	}
}

func TestRagDocPage(t *testing.T) {
	ts, st := newTestServer(t)
	docID, _, err := st.AddDocument("page.txt", "text/plain", "first block\n\nsecond block", 512)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(fmt.Sprintf("%s/rag/doc/%d", ts.URL, docID))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	page, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`id="chunk-0"`, `id="chunk-1"`, "first block", "second block"} {
		if !strings.Contains(string(page), want) {
			t.Errorf("page missing %q", want)
		}
	}

	if code := getJSON(t, ts.URL+"/rag/doc/999", nil); code != http.StatusNotFound {
		t.Errorf("unknown doc should 404, got %d", code)
	}
}

func TestRagDocDelete(t *testing.T) {
	ts, st := newTestServer(t)
	docID, _, err := st.AddDocument("gone.txt", "text/plain", "to be deleted", 512)
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/rag/doc/%d", ts.URL, docID), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if body["doc_count"].(float64) != 0 {
		t.Errorf("doc_count = %v", body["doc_count"])
	}

	req, _ = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/rag/doc/%d", ts.URL, docID), nil)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("second delete should 404, got %d", resp2.StatusCode)
	}
}

func TestRagUpload(t *testing.T) {
	ts, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("uploaded document text"))
	mw.Close()

	resp, err := http.Post(ts.URL+"/rag/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		OK  bool `json:"ok"`
		Doc struct {
			Filename string `json:"filename"`
			Chunks   int    `json:"chunks"`
		} `json:"doc"`
		Rag struct {
			DocCount int `json:"doc_count"`
		} `json:"rag"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || !body.OK {
		t.Fatalf("status %d body %+v", resp.StatusCode, body)
	}
	if body.Doc.Filename != "notes.txt" || body.Doc.Chunks != 1 || body.Rag.DocCount != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestRagUploadRejectsExtension(t *testing.T) {
	ts, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "evil.exe")
	fw.Write([]byte("nope"))
	mw.Close()

	resp, err := http.Post(ts.URL+"/rag/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestMCPToolsList(t *testing.T) {
	ts, _ := newTestServer(t)
	var tools []toolDescriptor
	if code := getJSON(t, ts.URL+"/mcp/tools/list", &tools); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(tools) != 1 || tools[0].Name != "rag_search" {
		t.Fatalf("tools = %+v", tools)
	}
	req, ok := tools[0].InputSchema["required"].([]any)
	if !ok || len(req) != 1 || req[0] != "query" {
		t.Errorf("schema required = %v", tools[0].InputSchema["required"])
	}
}

func TestMCPToolsCall(t *testing.T) {
	ts, st := newTestServer(t)
	if _, _, err := st.AddDocument("facts.txt", "text/plain", "the moon orbits the earth", 512); err != nil {
		t.Fatal(err)
	}

	var body struct {
		Name   string `json:"name"`
		Result struct {
			Query     string            `json:"query"`
			TopK      int               `json:"top_k"`
			ElapsedMS int               `json:"elapsed_ms"`
			Chunks    []domain.RagChunk `json:"chunks"`
			Context   string            `json:"context"`
		} `json:"result"`
	}
	code := postJSON(t, ts.URL+"/mcp/tools/call", map[string]any{
		"name":      "rag_search",
		"arguments": map[string]any{"query": "moon orbits"},
	}, &body)
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body.Name != "rag_search" || len(body.Result.Chunks) == 0 {
		t.Fatalf("body = %+v", body)
	}
	if !strings.Contains(body.Result.Context, "[1] Source: facts.txt#0") {
		t.Errorf("context = %q", body.Result.Context)
	}

	if code := postJSON(t, ts.URL+"/mcp/tools/call", map[string]any{
		"name": "other_tool", "arguments": map[string]any{"query": "x"},
	}, nil); code != http.StatusBadRequest {
		t.Errorf("unknown tool should 400, got %d", code)
	}
}

func TestChatCompletionNonStream(t *testing.T) {
	ts, st := newTestServer(t)
	if _, _, err := st.AddDocument("geo.txt", "text/plain", "the capital of France is Paris", 512); err != nil {
		t.Fatal(err)
	}

	var body chatEnvelope
	code := postJSON(t, ts.URL+"/v1/chat/completions", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "capital France"}},
	}, &body)
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body.Object != "chat.completion" || !strings.HasPrefix(body.ID, "chatcmpl-") {
		t.Errorf("envelope = %+v", body)
	}
	if len(body.Choices) != 1 || body.Choices[0].Message.Content != "The answer is Paris." {
		t.Errorf("choices = %+v", body.Choices)
	}
	if body.Choices[0].FinishReason == nil || *body.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %v", body.Choices[0].FinishReason)
	}
	if body.Rag == nil || len(body.Rag.Chunks) == 0 {
		t.Errorf("rag payload missing: %+v", body.Rag)
	}
	if body.Usage == nil || body.Usage.CompletionTokens == 0 {
		t.Errorf("usage = %+v", body.Usage)
	}
}

func TestChatCompletionRejectsEmptyMessages(t *testing.T) {
	ts, _ := newTestServer(t)
	if code := postJSON(t, ts.URL+"/v1/chat/completions", map[string]any{
		"messages": []map[string]string{},
	}, nil); code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", code)
	}
}

func TestChatCompletionStream(t *testing.T) {
	ts, _ := newTestServer(t)

	data, _ := json.Marshal(map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
		"stream":   true,
	})
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	frames := strings.Split(strings.TrimSpace(string(raw)), "\n\n")
	if len(frames) < 3 {
		t.Fatalf("got %d frames", len(frames))
	}
	if frames[len(frames)-1] != "data: [DONE]" {
		t.Errorf("last frame = %q", frames[len(frames)-1])
	}

	var content strings.Builder
	var sawStop bool
	for _, f := range frames[:len(frames)-1] {
		var env chatEnvelope
		if err := json.Unmarshal([]byte(strings.TrimPrefix(f, "data: ")), &env); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		if env.Object != "chat.completion.chunk" {
			t.Errorf("object = %q", env.Object)
		}
		if len(env.Choices) > 0 && env.Choices[0].Delta != nil {
			content.WriteString(env.Choices[0].Delta.Content)
		}
		if len(env.Choices) > 0 && env.Choices[0].FinishReason != nil {
			sawStop = true
			if env.Usage == nil || env.Rag == nil || env.Mem == nil {
				t.Errorf("terminal chunk missing usage/mem/rag: %+v", env)
			}
		}
	}
	if content.String() != "The answer is Paris." {
		t.Errorf("streamed content = %q", content.String())
	}
	if !sawStop {
		t.Error("no terminal stop frame")
	}
}

func TestEmbeddedUIServed(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	page, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(page), "ragserve") {
		t.Errorf("status %d", resp.StatusCode)
	}
}
