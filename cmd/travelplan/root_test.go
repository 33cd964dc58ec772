package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"travel-planner/internal/app"
	"travel-planner/internal/vectorstore"
)

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "travelplan.toml")
	body := "[openai]\napi_key = \"sk-test\"\nbase_url = \"" + baseURL + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runWith(t, nil, args...)
}

func runWith(t *testing.T, opts []app.Option, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(opts...)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestComplete_PrintsExactlyTheModelReply(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Recursion is..."}}]}`))
	}))
	defer srv.Close()

	stdout, _, err := run(t, "--config", writeConfig(t, srv.URL), "--env-file", "", "complete")
	require.NoError(t, err)
	require.Equal(t, "Recursion is...\n", stdout)
	require.Equal(t, 1, calls)
}

func TestComplete_UpstreamErrorPrintsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	stdout, _, err := run(t, "--config", writeConfig(t, srv.URL), "--env-file", "", "complete")
	require.Error(t, err)
	require.Empty(t, stdout)
}

func TestRoot_MalformedConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[openai\n"), 0o600))

	_, _, err := run(t, "--config", path, "--env-file", "", "complete")
	require.Error(t, err)
}

// fakeOpenAI replays chat replies in order and embeds by keyword counts.
type fakeOpenAI struct {
	mu       sync.Mutex
	replies  []string
	prompts  []string
	embedded int
	chatCode int
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/v1/chat/completions":
		if f.chatCode != 0 {
			w.WriteHeader(f.chatCode)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
			return
		}
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.prompts = append(f.prompts, body.Messages[len(body.Messages)-1].Content)
		reply := "Final Answer: out of script"
		if len(f.replies) > 0 {
			reply, f.replies = f.replies[0], f.replies[1:]
		}
		f.mu.Unlock()

		content, _ := json.Marshal(reply)
		_, _ = fmt.Fprintf(w, `{"id":"c","object":"chat.completion","model":"gpt-mock","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}]}`, content)

	case "/v1/embeddings":
		var body struct {
			Input []string `json:"input"`
		}
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.embedded += len(body.Input)
		f.mu.Unlock()

		var data []string
		for i, in := range body.Input {
			data = append(data, fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":[%d,1]}`,
				i, strings.Count(strings.ToLower(in), "museum")))
		}
		_, _ = fmt.Fprintf(w, `{"object":"list","model":"embed-mock","data":[%s]}`, strings.Join(data, ","))

	default:
		http.NotFound(w, r)
	}
}

const guidePage = `<html><body>
<div class="pagetitleloading"><h1>England travel tips</h1></div>
<div class="postcontentwrap">
<p>The British Museum is free and worth a whole day.</p>
<p>Get an Oyster card for the Tube.</p>
</div>
</body></html>`

// guideServer serves guidePage, or status when it is non-zero, and counts hits.
func guideServer(t *testing.T, status int) (*httptest.Server, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte(guidePage))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writePlanConfig(t *testing.T, openaiURL, pageURL, store string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "travelplan.toml")
	body := fmt.Sprintf(`[openai]
api_key = "sk-test"
base_url = %q
chat_model = "gpt-mock"
embedding_model = "embed-mock"

[search]
duckduckgo_url = "http://127.0.0.1:1/lite/"
wikipedia_api_url = "http://127.0.0.1:1/w/api.php"

[index]
url = %q
chunk_size = 60
chunk_overlap = 10
top_k = 1
store = %q
table = "vectors"
`, openaiURL, pageURL, store)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestPlan_PrintsOnlyTheAnswer(t *testing.T) {
	llm := &fakeOpenAI{replies: []string{
		"I now know the final answer\nFinal Answer: Carnival on 25 August.",
		"Day 1: British Museum. Day 2: Carnival.",
	}}
	openaiSrv := httptest.NewServer(llm)
	defer openaiSrv.Close()
	pageSrv, hits := guideServer(t, 0)

	cfg := writePlanConfig(t, openaiSrv.URL, pageSrv.URL, "memory")
	stdout, _, err := run(t, "--config", cfg, "--env-file", "", "plan", "--query", "Which museum should I visit?")
	require.NoError(t, err)
	require.Equal(t, "Day 1: British Museum. Day 2: Carnival.\n", stdout)
	require.Equal(t, 1, *hits)
	require.Positive(t, llm.embedded)

	require.Len(t, llm.prompts, 2)
	require.Contains(t, llm.prompts[0], "Question: Which museum should I visit?")
	require.Contains(t, llm.prompts[1], "Carnival on 25 August.")
	require.Contains(t, llm.prompts[1], "British Museum")
	require.Contains(t, llm.prompts[1], "User: Which museum should I visit?")
}

func TestPlan_MarkdownRendersTheAnswer(t *testing.T) {
	llm := &fakeOpenAI{replies: []string{
		"Final Answer: Carnival on 25 August.",
		"Visit the **British Museum** first.",
	}}
	openaiSrv := httptest.NewServer(llm)
	defer openaiSrv.Close()
	pageSrv, _ := guideServer(t, 0)

	cfg := writePlanConfig(t, openaiSrv.URL, pageSrv.URL, "memory")
	stdout, _, err := run(t, "--config", cfg, "--env-file", "", "plan", "--markdown")
	require.NoError(t, err)
	require.Contains(t, stdout, "Museum")
	require.NotContains(t, stdout, "**")
}

func TestPlan_FailingStagePrintsNothing(t *testing.T) {
	t.Run("research", func(t *testing.T) {
		llm := &fakeOpenAI{chatCode: http.StatusInternalServerError}
		openaiSrv := httptest.NewServer(llm)
		defer openaiSrv.Close()
		pageSrv, _ := guideServer(t, 0)

		stdout, _, err := run(t, "--config", writePlanConfig(t, openaiSrv.URL, pageSrv.URL, "memory"), "--env-file", "", "plan")
		require.Error(t, err)
		require.Empty(t, stdout)
	})

	t.Run("index", func(t *testing.T) {
		llm := &fakeOpenAI{replies: []string{"Final Answer: Carnival on 25 August."}}
		openaiSrv := httptest.NewServer(llm)
		defer openaiSrv.Close()
		pageSrv, hits := guideServer(t, http.StatusNotFound)

		stdout, _, err := run(t, "--config", writePlanConfig(t, openaiSrv.URL, pageSrv.URL, "memory"), "--env-file", "", "plan")
		require.Error(t, err)
		require.Empty(t, stdout)
		require.Equal(t, 1, *hits)
		require.Len(t, llm.prompts, 1)
	})
}

func TestIndexThenPlanSkipIndexReusesTheStore(t *testing.T) {
	llm := &fakeOpenAI{replies: []string{
		"Final Answer: Carnival on 25 August.",
		"Day 1: British Museum.",
	}}
	openaiSrv := httptest.NewServer(llm)
	defer openaiSrv.Close()
	pageSrv, hits := guideServer(t, 0)
	cfg := writePlanConfig(t, openaiSrv.URL, pageSrv.URL, "dynamodb")
	opts := []app.Option{app.WithBackend(vectorstore.NewMemory())}

	stdout, _, err := runWith(t, opts, "--config", cfg, "--env-file", "", "index")
	require.NoError(t, err)
	require.Regexp(t, `^indexed [1-9]\d* chunks into "travel-guide"\n$`, stdout)
	require.Equal(t, 1, *hits)
	require.Empty(t, llm.prompts)

	stdout, _, err = runWith(t, opts, "--config", cfg, "--env-file", "", "plan", "--skip-index", "--query", "Which museum?")
	require.NoError(t, err)
	require.Equal(t, "Day 1: British Museum.\n", stdout)
	require.Equal(t, 1, *hits)
	require.Len(t, llm.prompts, 2)
	require.Contains(t, llm.prompts[1], "British Museum is free")
}

func TestMemoryStoreRejectsCommandsThatNeedAPersistentIndex(t *testing.T) {
	llm := &fakeOpenAI{}
	openaiSrv := httptest.NewServer(llm)
	defer openaiSrv.Close()
	pageSrv, hits := guideServer(t, 0)
	cfg := writePlanConfig(t, openaiSrv.URL, pageSrv.URL, "memory")

	for _, args := range [][]string{{"index"}, {"plan", "--skip-index"}} {
		stdout, _, err := run(t, append([]string{"--config", cfg, "--env-file", ""}, args...)...)
		require.ErrorIs(t, err, errEphemeralStore, "args=%v", args)
		require.Empty(t, stdout)
	}
	require.Zero(t, *hits)
	require.Empty(t, llm.prompts)
	require.Zero(t, llm.embedded)
}
