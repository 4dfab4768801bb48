package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"ContentEngine/internal/domain"
	"ContentEngine/internal/ports"
)

// Store persists jobs, content items, clusters, and ideas in Postgres.
// Embeddings live in a pgvector column on the contents table.
type Store struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

var _ ports.JobStore = (*Store)(nil)

// New opens a connection pool against dsn and registers the pgvector
// codec on every connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Store{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// CreateJob inserts a pending job record.
func (s *Store) CreateJob(ctx context.Context, req domain.JobRequest) (domain.ScrapeJob, error) {
	query, args, err := s.sb.Insert("scrape_jobs").
		Columns("audience_id", "status", "output_formats", "max_topics").
		Values(req.AudienceID, domain.JobPending, formatStrings(req.OutputFormats), req.MaxTopics).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("build insert: %w", err)
	}

	job := domain.ScrapeJob{
		AudienceID:    req.AudienceID,
		Status:        domain.JobPending,
		OutputFormats: req.OutputFormats,
		MaxTopics:     req.MaxTopics,
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&job.ID, &job.CreatedAt); err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (domain.ScrapeJob, error) {
	query, args, err := s.sb.Select(
		"id", "audience_id", "status", "output_formats", "max_topics",
		"total_raw", "total_filtered", "total_deduped", "total_clusters", "total_ideas",
		"COALESCE(error_message, '')", "started_at", "completed_at", "created_at",
	).From("scrape_jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("build select: %w", err)
	}

	var (
		job     domain.ScrapeJob
		formats []string
	)
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&job.ID, &job.AudienceID, &job.Status, &formats, &job.MaxTopics,
		&job.TotalRaw, &job.TotalFiltered, &job.TotalDeduped, &job.TotalClusters, &job.TotalIdeas,
		&job.ErrorMessage, &job.StartedAt, &job.CompletedAt, &job.CreatedAt,
	)
	if err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("get job %d: %w", id, err)
	}
	job.OutputFormats = domain.ParseFormats(formats)
	return job, nil
}

func (s *Store) MarkJobRunning(ctx context.Context, id int64, startedAt time.Time) error {
	query, args, err := s.sb.Update("scrape_jobs").
		Set("status", domain.JobRunning).
		Set("started_at", startedAt).
		Where(sq.Eq{"id": id, "status": domain.JobPending}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d is not pending", id)
	}
	return nil
}

// UpdateJobCounters writes the stage counters. GREATEST keeps every
// counter monotonic even if a write is replayed out of order.
func (s *Store) UpdateJobCounters(ctx context.Context, id int64, c domain.JobCounters) error {
	query, args, err := s.sb.Update("scrape_jobs").
		Set("total_raw", sq.Expr("GREATEST(total_raw, ?)", c.TotalRaw)).
		Set("total_filtered", sq.Expr("GREATEST(total_filtered, ?)", c.TotalFiltered)).
		Set("total_deduped", sq.Expr("GREATEST(total_deduped, ?)", c.TotalDeduped)).
		Set("total_clusters", sq.Expr("GREATEST(total_clusters, ?)", c.TotalClusters)).
		Set("total_ideas", sq.Expr("GREATEST(total_ideas, ?)", c.TotalIdeas)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	return nil
}

// AppendJobError accumulates non-fatal stage errors with a semicolon
// separator, preserving earlier entries.
func (s *Store) AppendJobError(ctx context.Context, id int64, msg string) error {
	query, args, err := s.sb.Update("scrape_jobs").
		Set("error_message", sq.Expr(
			"CASE WHEN error_message IS NULL OR error_message = '' THEN ? ELSE error_message || '; ' || ? END",
			msg, msg)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("append error: %w", err)
	}
	return nil
}

func (s *Store) MarkJobCompleted(ctx context.Context, id int64, completedAt time.Time) error {
	return s.finishJob(ctx, id, domain.JobCompleted, "", completedAt)
}

func (s *Store) MarkJobFailed(ctx context.Context, id int64, cause string, completedAt time.Time) error {
	return s.finishJob(ctx, id, domain.JobFailed, cause, completedAt)
}

func (s *Store) finishJob(ctx context.Context, id int64, status domain.JobStatus, cause string, completedAt time.Time) error {
	b := s.sb.Update("scrape_jobs").
		Set("status", status).
		Set("completed_at", completedAt).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": []string{string(domain.JobCompleted), string(domain.JobFailed)}})
	if cause != "" {
		b = b.Set("error_message", sq.Expr(
			"CASE WHEN error_message IS NULL OR error_message = '' THEN ? ELSE error_message || '; ' || ? END",
			cause, cause))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d already terminal", id)
	}
	return nil
}

// FailStaleRunning fails every job left in running state, typically after
// a process crash. Returns the number of jobs failed.
func (s *Store) FailStaleRunning(ctx context.Context, cause string) (int, error) {
	query, args, err := s.sb.Update("scrape_jobs").
		Set("status", domain.JobFailed).
		Set("error_message", cause).
		Set("completed_at", time.Now().UTC()).
		Where(sq.Eq{"status": domain.JobRunning}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SaveItems inserts raw items for a job and returns them with assigned IDs.
func (s *Store) SaveItems(ctx context.Context, jobID int64, items []domain.ContentItem) ([]domain.ContentItem, error) {
	batch := &pgx.Batch{}
	for _, item := range items {
		query, args, err := s.sb.Insert("contents").
			Columns("job_id", "content_hash", "source", "content_type", "title", "body",
				"url", "author", "published_at", "views", "likes", "comments", "shares",
				"engagement_score", "tags", "keyword_hits").
			Values(jobID, item.ContentHash, item.Source, item.ContentType, item.Title, item.Body,
				item.URL, item.Author, nullableTime(item.PublishedAt), item.Views, item.Likes,
				item.Comments, item.Shares, item.EngagementScore, item.Tags, item.KeywordHits).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build insert: %w", err)
		}
		batch.Queue(query, args...)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	saved := make([]domain.ContentItem, len(items))
	for i, item := range items {
		item.JobID = jobID
		if err := results.QueryRow().Scan(&item.ID); err != nil {
			return nil, fmt.Errorf("insert item %d: %w", i, err)
		}
		saved[i] = item
	}
	return saved, nil
}

// StoreEmbeddings writes each item's vector onto its row.
func (s *Store) StoreEmbeddings(ctx context.Context, items []domain.ContentItem) error {
	batch := &pgx.Batch{}
	for _, item := range items {
		if item.Embedding == nil {
			continue
		}
		query, args, err := s.sb.Update("contents").
			Set("embedding", pgvector.NewVector(item.Embedding)).
			Where(sq.Eq{"id": item.ID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		batch.Queue(query, args...)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store embeddings: %w", err)
	}
	return nil
}

func (s *Store) MarkDuplicates(ctx context.Context, jobID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	query, args, err := s.sb.Update("contents").
		Set("is_duplicate", true).
		Where(sq.Eq{"job_id": jobID}).
		Where(sq.Expr("id = ANY(?)", itemIDs)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark duplicates: %w", err)
	}
	return nil
}

// SaveCluster inserts the cluster row and stamps cluster membership onto
// the member content rows.
func (s *Store) SaveCluster(ctx context.Context, cluster domain.TopicCluster) (domain.TopicCluster, error) {
	query, args, err := s.sb.Insert("topic_clusters").
		Columns("job_id", "cluster_index", "label", "size", "total_engagement",
			"avg_engagement", "sources", "top_titles", "representative_title", "representative_body").
		Values(cluster.JobID, cluster.ClusterIndex, cluster.Label, cluster.Size,
			cluster.TotalEngagement, cluster.AvgEngagement, cluster.Sources,
			cluster.TopTitles, cluster.RepresentativeTitle, cluster.RepresentativeBody).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return domain.TopicCluster{}, fmt.Errorf("build insert: %w", err)
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&cluster.ID); err != nil {
		return domain.TopicCluster{}, fmt.Errorf("insert cluster: %w", err)
	}

	memberIDs := make([]int64, 0, len(cluster.Members))
	for i := range cluster.Members {
		cluster.Members[i].ClusterID = &cluster.ID
		if cluster.Members[i].ID != 0 {
			memberIDs = append(memberIDs, cluster.Members[i].ID)
		}
	}
	if len(memberIDs) > 0 {
		query, args, err = s.sb.Update("contents").
			Set("cluster_id", cluster.ID).
			Where(sq.Expr("id = ANY(?)", memberIDs)).
			ToSql()
		if err != nil {
			return domain.TopicCluster{}, fmt.Errorf("build update: %w", err)
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return domain.TopicCluster{}, fmt.Errorf("stamp members: %w", err)
		}
	}
	return cluster, nil
}

func (s *Store) UpdateClusterLabel(ctx context.Context, clusterID int64, label string) error {
	query, args, err := s.sb.Update("topic_clusters").
		Set("label", label).
		Where(sq.Eq{"id": clusterID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update label: %w", err)
	}
	return nil
}

func (s *Store) SaveIdea(ctx context.Context, idea domain.ContentIdea) (domain.ContentIdea, error) {
	query, args, err := s.sb.Insert("content_ideas").
		Columns("job_id", "cluster_id", "audience_id", "format_type", "topic_label",
			"generated_content", "source_urls").
		Values(idea.JobID, idea.ClusterID, idea.AudienceID, string(idea.FormatType),
			idea.TopicLabel, idea.GeneratedContent, idea.SourceURLs).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return domain.ContentIdea{}, fmt.Errorf("build insert: %w", err)
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&idea.ID, &idea.CreatedAt); err != nil {
		return domain.ContentIdea{}, fmt.Errorf("insert idea: %w", err)
	}
	return idea, nil
}

func (s *Store) GetAudience(ctx context.Context, id string) (domain.Audience, error) {
	query, args, err := s.audienceSelect().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Audience{}, fmt.Errorf("build select: %w", err)
	}
	a, err := scanAudience(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Audience{}, fmt.Errorf("get audience %s: %w", id, err)
	}
	return a, nil
}

func (s *Store) ListActiveAudiences(ctx context.Context) ([]domain.Audience, error) {
	query, args, err := s.audienceSelect().
		Where(sq.Eq{"is_active": true}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audiences: %w", err)
	}
	defer rows.Close()

	var audiences []domain.Audience
	for rows.Next() {
		a, err := scanAudience(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audience: %w", err)
		}
		audiences = append(audiences, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audiences: %w", err)
	}
	return audiences, nil
}

func (s *Store) audienceSelect() sq.SelectBuilder {
	return s.sb.Select(
		"id", "name", "COALESCE(description, '')",
		"core_keywords", "extended_keywords", "subreddits", "is_active",
	).From("audiences")
}

func scanAudience(row pgx.Row) (domain.Audience, error) {
	var a domain.Audience
	err := row.Scan(&a.ID, &a.Name, &a.Description,
		&a.CoreKeywords, &a.ExtendedKeywords, &a.Subreddits, &a.IsActive)
	return a, err
}

func formatStrings(formats []domain.FormatType) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = string(f)
	}
	return out
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
