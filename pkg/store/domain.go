package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The domain tables are a continuously refreshed mirror keyed on the
// source platform's natural identifiers: rows are inserted on first
// sighting and updated in place on every later one, never deleted.
// sqlite's last_insert_rowid is only meaningful on the insert path of
// an upsert, so every upsert reloads by natural key afterwards to get
// the surrogate id.

// UpsertRepository inserts or refreshes a repository by github_id and
// fills in the surrogate id.
func (s *Store) UpsertRepository(ctx context.Context, r *Repository) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "github_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "full_name", "owner", "description", "url", "is_private", "updated_at",
		}),
	}).Create(r).Error
	if err != nil {
		return fmt.Errorf("failed to upsert repository %d: %w", r.GithubID, err)
	}

	err = s.db.WithContext(ctx).Where("github_id = ?", r.GithubID).Take(r).Error
	if err != nil {
		return fmt.Errorf("failed to reload repository %d: %w", r.GithubID, err)
	}
	return nil
}

// GetRepository loads one repository by surrogate id.
func (s *Store) GetRepository(ctx context.Context, id int64) (*Repository, error) {
	var r Repository
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// FindRepositoryByFullName looks a repository up by its "owner/name"
// form. Returns (nil, nil) when none exists.
func (s *Store) FindRepositoryByFullName(ctx context.Context, fullName string) (*Repository, error) {
	var r Repository
	err := s.db.WithContext(ctx).Where("full_name = ?", fullName).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find repository %q: %w", fullName, err)
	}
	return &r, nil
}

// ListRepositories returns repositories, most recently updated first.
func (s *Store) ListRepositories(ctx context.Context, limit, offset int) ([]Repository, error) {
	var repos []Repository
	err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).Offset(offset).
		Find(&repos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

func (s *Store) CountRepositories(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Repository{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count repositories: %w", err)
	}
	return count, nil
}

// UpsertCommit inserts or refreshes a commit by (sha, repository_id).
// The webhook_event_id provenance keeps the value of the first sighting.
func (s *Store) UpsertCommit(ctx context.Context, c *Commit) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sha"}, {Name: "repository_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"message", "author_name", "author_email",
			"committer_name", "committer_email", "committed_at", "url",
		}),
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("failed to upsert commit %s: %w", c.SHA, err)
	}

	err = s.db.WithContext(ctx).
		Where("sha = ? AND repository_id = ?", c.SHA, c.RepositoryID).
		Take(c).Error
	if err != nil {
		return fmt.Errorf("failed to reload commit %s: %w", c.SHA, err)
	}
	return nil
}

// ListCommitsByRepository returns a repository's commits, newest first.
func (s *Store) ListCommitsByRepository(ctx context.Context, repositoryID int64, limit, offset int) ([]Commit, error) {
	var commits []Commit
	err := s.db.WithContext(ctx).
		Where("repository_id = ?", repositoryID).
		Order("committed_at DESC").
		Limit(limit).Offset(offset).
		Find(&commits).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list commits for repository %d: %w", repositoryID, err)
	}
	return commits, nil
}

func (s *Store) CountCommitsByRepository(ctx context.Context, repositoryID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Commit{}).
		Where("repository_id = ?", repositoryID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count commits for repository %d: %w", repositoryID, err)
	}
	return count, nil
}

func (s *Store) CountCommits(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Commit{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count commits: %w", err)
	}
	return count, nil
}

// UpsertPullRequest inserts or refreshes a pull request by github_id.
func (s *Store) UpsertPullRequest(ctx context.Context, pr *PullRequest) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "github_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "state", "author", "base_branch", "head_branch",
			"url", "closed_at", "merged_at", "updated_at",
		}),
	}).Create(pr).Error
	if err != nil {
		return fmt.Errorf("failed to upsert pull request %d: %w", pr.GithubID, err)
	}

	err = s.db.WithContext(ctx).Where("github_id = ?", pr.GithubID).Take(pr).Error
	if err != nil {
		return fmt.Errorf("failed to reload pull request %d: %w", pr.GithubID, err)
	}
	return nil
}

// ListPullRequestsByRepository returns a repository's pull requests,
// most recently opened first.
func (s *Store) ListPullRequestsByRepository(ctx context.Context, repositoryID int64, limit, offset int) ([]PullRequest, error) {
	var prs []PullRequest
	err := s.db.WithContext(ctx).
		Where("repository_id = ?", repositoryID).
		Order("opened_at DESC").
		Limit(limit).Offset(offset).
		Find(&prs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests for repository %d: %w", repositoryID, err)
	}
	return prs, nil
}

func (s *Store) CountPullRequests(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&PullRequest{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count pull requests: %w", err)
	}
	return count, nil
}

// UpsertIssue inserts or refreshes an issue by github_id.
func (s *Store) UpsertIssue(ctx context.Context, i *Issue) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "github_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "state", "author", "labels", "url", "closed_at", "updated_at",
		}),
	}).Create(i).Error
	if err != nil {
		return fmt.Errorf("failed to upsert issue %d: %w", i.GithubID, err)
	}

	err = s.db.WithContext(ctx).Where("github_id = ?", i.GithubID).Take(i).Error
	if err != nil {
		return fmt.Errorf("failed to reload issue %d: %w", i.GithubID, err)
	}
	return nil
}

// ListIssuesByRepository returns a repository's issues, most recently
// opened first.
func (s *Store) ListIssuesByRepository(ctx context.Context, repositoryID int64, limit, offset int) ([]Issue, error) {
	var issues []Issue
	err := s.db.WithContext(ctx).
		Where("repository_id = ?", repositoryID).
		Order("opened_at DESC").
		Limit(limit).Offset(offset).
		Find(&issues).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list issues for repository %d: %w", repositoryID, err)
	}
	return issues, nil
}

func (s *Store) CountIssues(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Issue{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count issues: %w", err)
	}
	return count, nil
}
