// Package storagetest is a conformance suite every storage.Store backend runs
// from its own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
)

// Run exercises s. The store must start empty.
func Run(t *testing.T, s storage.Store) {
	t.Run("Sources", func(t *testing.T) { testSources(t, s) })
	t.Run("TaskTransitions", func(t *testing.T) { testTaskTransitions(t, s) })
	t.Run("RecordsDedup", func(t *testing.T) { testRecordsDedup(t, s) })
	t.Run("RecordQueries", func(t *testing.T) { testRecordQueries(t, s) })
	t.Run("ConcurrentInsert", func(t *testing.T) { testConcurrentInsert(t, s) })
	t.Run("DeepUpsertAndCascade", func(t *testing.T) { testDeep(t, s) })
}

func testSources(t *testing.T, s storage.Store) {
	ctx := context.Background()

	web := &storage.Source{Name: "news-site", URL: "https://news.example.com", Type: "website", Params: "{}", Headers: "{}", Method: "GET", Enabled: true, CrawlInterval: time.Hour, Timeout: 10 * time.Second, RetryCount: 3}
	if err := s.CreateSource(ctx, web); err != nil {
		t.Fatalf("create source: %v", err)
	}
	if web.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	dup := &storage.Source{Name: "news-site", URL: "https://other.example.com", Type: "website", Params: "{}", Headers: "{}", Method: "GET"}
	if err := s.CreateSource(ctx, dup); !errors.Is(err, storage.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}

	off := &storage.Source{Name: "disabled-search", URL: "https://www.baidu.com/s", Type: "baidu_search", Params: `{"limit":5}`, Headers: "{}", Method: "GET", Enabled: false}
	if err := s.CreateSource(ctx, off); err != nil {
		t.Fatalf("create disabled source: %v", err)
	}

	all, err := s.ListSources(ctx, false)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 sources, got %d (%v)", len(all), err)
	}
	enabled, err := s.ListSources(ctx, true)
	if err != nil || len(enabled) != 1 || enabled[0].ID != web.ID {
		t.Fatalf("expected only the enabled source, got %v (%v)", enabled, err)
	}

	got, err := s.GetSource(ctx, off.ID)
	if err != nil {
		t.Fatalf("get disabled source by id: %v", err)
	}
	if got.Params != `{"limit":5}` || got.Enabled {
		t.Errorf("unexpected source: %+v", got)
	}

	byName, err := s.GetSourceByName(ctx, "news-site")
	if err != nil || byName.ID != web.ID {
		t.Errorf("get by name: %v %v", byName, err)
	}
	if byName.CrawlInterval != time.Hour || byName.Timeout != 10*time.Second || byName.RetryCount != 3 {
		t.Errorf("durations not round-tripped: %+v", byName)
	}

	off.Enabled = true
	off.Description = "now on"
	if err := s.UpdateSource(ctx, off); err != nil {
		t.Fatalf("update source: %v", err)
	}
	off.Name = "news-site"
	if err := s.UpdateSource(ctx, off); !errors.Is(err, storage.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName on rename, got %v", err)
	}

	if err := s.DeleteSource(ctx, web.ID); err != nil {
		t.Fatalf("delete source: %v", err)
	}
	if _, err := s.GetSource(ctx, web.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteSource(ctx, web.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
	_ = s.DeleteSource(ctx, off.ID)
}

func testTaskTransitions(t *testing.T, s storage.Store) {
	ctx := context.Background()

	task := &storage.Task{Name: "collect: golang", Request: storage.TaskRequest{Keyword: "golang", SourceTypes: []string{"baidu_search"}, Page: 1, Limit: 10}, CreatedBy: "admin"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != storage.TaskPending {
		t.Errorf("expected pending default, got %s", task.Status)
	}

	started := time.Now().UTC()
	ok, err := s.TransitionTask(ctx, task.ID, []storage.TaskStatus{storage.TaskPending}, storage.TaskRunning, storage.TaskUpdate{StartedAt: &started})
	if err != nil || !ok {
		t.Fatalf("pending->running: %v %v", ok, err)
	}

	if err := s.SetTaskTotal(ctx, task.ID, 7); err != nil {
		t.Fatalf("set total: %v", err)
	}
	if err := s.HeartbeatTask(ctx, task.ID, started.Add(time.Second)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	ok, err = s.TransitionTask(ctx, task.ID, []storage.TaskStatus{storage.TaskPending, storage.TaskRunning}, storage.TaskStopped, storage.TaskUpdate{})
	if err != nil || !ok {
		t.Fatalf("running->stopped: %v %v", ok, err)
	}

	// A late completion must not overwrite stopped.
	total := 9
	ok, err = s.TransitionTask(ctx, task.ID, []storage.TaskStatus{storage.TaskRunning}, storage.TaskCompleted, storage.TaskUpdate{Total: &total})
	if err != nil || ok {
		t.Fatalf("expected completion to be refused, got %v %v", ok, err)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != storage.TaskStopped || got.TotalCollected != 7 {
		t.Errorf("unexpected task state: %+v", got)
	}
	if got.StartedAt == nil || got.StartedAt.UnixMilli() != started.UnixMilli() {
		t.Errorf("started_at not stored: %v", got.StartedAt)
	}
	if got.HeartbeatAt == nil || got.FinishedAt != nil {
		t.Errorf("unexpected timestamps: heartbeat=%v finished=%v", got.HeartbeatAt, got.FinishedAt)
	}
	if got.Request.Keyword != "golang" || len(got.Request.SourceTypes) != 1 {
		t.Errorf("request not round-tripped: %+v", got.Request)
	}

	if _, err := s.TransitionTask(ctx, "missing", []storage.TaskStatus{storage.TaskPending}, storage.TaskRunning, storage.TaskUpdate{}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing task, got %v", err)
	}
	if _, err := s.GetTask(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	second := &storage.Task{Name: "collect: rust", Request: storage.TaskRequest{Keyword: "rust"}, CreatedAt: task.CreatedAt.Add(time.Second)}
	if err := s.CreateTask(ctx, second); err != nil {
		t.Fatalf("create second task: %v", err)
	}
	list, err := s.ListTasks(ctx, storage.TaskFilter{})
	if err != nil || len(list) < 2 || list[0].ID != second.ID {
		t.Errorf("expected newest task first, got %v (%v)", list, err)
	}
	stopped, err := s.ListTasks(ctx, storage.TaskFilter{Status: storage.TaskStopped})
	if err != nil || len(stopped) != 1 || stopped[0].ID != task.ID {
		t.Errorf("expected one stopped task, got %v (%v)", stopped, err)
	}
}

func testRecordsDedup(t *testing.T, s storage.Store) {
	ctx := context.Background()
	taskID := "dedup-task"

	batch := []*storage.Record{
		{TaskID: taskID, URL: "https://a.example.com", Title: "A", Source: "baidu_search"},
		{TaskID: taskID, URL: "https://b.example.com", Title: "B", Source: "baidu_search"},
		{TaskID: taskID, URL: "https://a.example.com", Title: "A again", Source: "baidu_search"},
	}
	n, err := s.InsertRecords(ctx, batch)
	if err != nil {
		t.Fatalf("insert records: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 inserted, got %d", n)
	}

	n, err = s.InsertRecords(ctx, []*storage.Record{{TaskID: taskID, URL: "https://b.example.com"}, {TaskID: "other-task", URL: "https://b.example.com"}})
	if err != nil {
		t.Fatalf("insert second batch: %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the other task's record inserted, got %d", n)
	}

	exists, err := s.RecordExists(ctx, taskID, "https://a.example.com")
	if err != nil || !exists {
		t.Errorf("expected record to exist: %v %v", exists, err)
	}
	exists, err = s.RecordExists(ctx, taskID, "https://c.example.com")
	if err != nil || exists {
		t.Errorf("expected record to be absent: %v %v", exists, err)
	}

	count, err := s.CountRecords(ctx, storage.RecordFilter{TaskID: taskID})
	if err != nil || count != 2 {
		t.Errorf("expected 2 records for task, got %d (%v)", count, err)
	}

	recs, err := s.QueryRecords(ctx, storage.RecordFilter{TaskID: taskID})
	if err != nil || len(recs) != 2 {
		t.Fatalf("query records: %v %v", recs, err)
	}
	if recs[0].URL != "https://a.example.com" || recs[0].Title != "A" || recs[0].Status != storage.RecordCollected {
		t.Errorf("expected first record kept in insertion order: %+v", recs[0])
	}
}

func testRecordQueries(t *testing.T, s storage.Store) {
	ctx := context.Background()
	taskID := "query-task"

	var batch []*storage.Record
	for i := 0; i < 5; i++ {
		src := "baidu_search"
		if i%2 == 1 {
			src = "website"
		}
		batch = append(batch, &storage.Record{TaskID: taskID, URL: fmt.Sprintf("https://q.example.com/%d", i), Title: fmt.Sprintf("title %d", i), Content: "golang channels", Source: src})
	}
	batch[4].Content = "rust ownership"
	if _, err := s.InsertRecords(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	page, err := s.QueryRecords(ctx, storage.RecordFilter{TaskID: taskID, Limit: 2, Offset: 1})
	if err != nil || len(page) != 2 || page[0].URL != "https://q.example.com/1" {
		t.Errorf("unexpected page: %v (%v)", page, err)
	}
	newest, err := s.QueryRecords(ctx, storage.RecordFilter{TaskID: taskID, NewestFirst: true, Limit: 1})
	if err != nil || len(newest) != 1 || newest[0].URL != "https://q.example.com/4" {
		t.Errorf("unexpected newest: %v (%v)", newest, err)
	}

	if n, _ := s.CountRecords(ctx, storage.RecordFilter{TaskID: taskID, Source: "website"}); n != 2 {
		t.Errorf("expected 2 website records, got %d", n)
	}
	if n, _ := s.CountRecords(ctx, storage.RecordFilter{TaskID: taskID, Search: "rust"}); n != 1 {
		t.Errorf("expected 1 search hit, got %d", n)
	}

	n, err := s.UpdateRecordStatus(ctx, []string{batch[0].ID, batch[1].ID, "missing"}, storage.RecordSaved)
	if err != nil || n != 2 {
		t.Errorf("expected 2 saved, got %d (%v)", n, err)
	}
	if n, _ := s.CountRecords(ctx, storage.RecordFilter{TaskID: taskID, Status: storage.RecordSaved}); n != 2 {
		t.Errorf("expected 2 saved records, got %d", n)
	}

	at := time.Now().UTC()
	if err := s.MarkDeepCollected(ctx, batch[2].ID, at); err != nil {
		t.Fatalf("mark deep collected: %v", err)
	}
	yes := true
	deep, err := s.QueryRecords(ctx, storage.RecordFilter{TaskID: taskID, DeepCollected: &yes})
	if err != nil || len(deep) != 1 || deep[0].DeepCollectedAt == nil {
		t.Errorf("expected one deep-collected record: %v (%v)", deep, err)
	}
	if err := s.MarkDeepCollected(ctx, "missing", at); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, err := s.GetRecord(ctx, batch[3].ID)
	if err != nil || got.Title != "title 3" {
		t.Errorf("get record: %v %v", got, err)
	}
	if _, err := s.GetRecord(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testConcurrentInsert(t *testing.T, s storage.Store) {
	ctx := context.Background()
	taskID := "race-task"

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var batch []*storage.Record
			for i := 0; i < 10; i++ {
				batch = append(batch, &storage.Record{TaskID: taskID, URL: fmt.Sprintf("https://race.example.com/%d", i)})
			}
			n, err := s.InsertRecords(ctx, batch)
			if err != nil {
				t.Errorf("concurrent insert: %v", err)
				return
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 10 {
		t.Errorf("expected exactly 10 inserts across writers, got %d", total)
	}
	if n, _ := s.CountRecords(ctx, storage.RecordFilter{TaskID: taskID}); n != 10 {
		t.Errorf("expected 10 stored records, got %d", n)
	}
}

func testDeep(t *testing.T, s storage.Store) {
	ctx := context.Background()

	rec := &storage.Record{TaskID: "deep-task", URL: "https://deep.example.com/post", Title: "post"}
	if _, err := s.InsertRecords(ctx, []*storage.Record{rec}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	d := &storage.DeepRecord{RecordID: rec.ID, URL: rec.URL, Title: "Post", Content: "# Post", Status: "completed"}
	created, err := s.UpsertDeepRecord(ctx, d)
	if err != nil || !created || d.ID == "" {
		t.Fatalf("first upsert: created=%v id=%q err=%v", created, d.ID, err)
	}
	firstID := d.ID

	again := &storage.DeepRecord{RecordID: rec.ID, URL: rec.URL, Title: "Post v2", Content: "# Post v2", AIAnalysis: "summary", ModelUsed: "claude-haiku", Status: "completed"}
	created, err = s.UpsertDeepRecord(ctx, again)
	if err != nil || created {
		t.Fatalf("second upsert should update: created=%v err=%v", created, err)
	}
	if again.ID != firstID {
		t.Errorf("expected upsert to keep id %s, got %s", firstID, again.ID)
	}
	if n, _ := s.CountDeepRecords(ctx, storage.DeepFilter{RecordID: rec.ID}); n != 1 {
		t.Errorf("expected one deep record, got %d", n)
	}

	got, err := s.GetDeepRecord(ctx, firstID)
	if err != nil || got.Title != "Post v2" || got.AIAnalysis != "summary" {
		t.Errorf("unexpected deep record: %+v (%v)", got, err)
	}

	got.AIAnalysis = "edited"
	if err := s.UpdateDeepRecord(ctx, got); err != nil {
		t.Fatalf("update deep: %v", err)
	}
	list, err := s.QueryDeepRecords(ctx, storage.DeepFilter{Search: "edited"})
	if err != nil || len(list) != 1 {
		t.Errorf("expected search hit on analysis: %v (%v)", list, err)
	}

	n, err := s.DeleteRecords(ctx, []string{rec.ID})
	if err != nil || n != 1 {
		t.Fatalf("delete records: %d %v", n, err)
	}
	if _, err := s.GetDeepRecord(ctx, firstID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected deep record removed by cascade, got %v", err)
	}
	if err := s.DeleteDeepRecord(ctx, firstID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
