package gateway

import (
	"context"
	"errors"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/database"
	"github.com/pulseboard/pulseboard/internal/upstream"
	"gorm.io/gorm"
)

// UpsertIssue writes a Jira issue into the store keyed by its public issue
// key. Replaying the same input converges to the same row. The issue's
// project must already exist; there is no implicit project creation.
func (g *Gateway) UpsertIssue(ctx context.Context, data upstream.IssueData) error {
	if data.Key == "" {
		return apperr.New(apperr.CodeValidation, "issue key is required")
	}

	var project database.Project
	err := g.db.WithContext(ctx).Where("key = ?", data.Project).First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.CodeNotFound, "Jira project not found: %s", data.Project)
		}
		return apperr.Wrap(apperr.CodeDB, err, "failed to look up project %s", data.Project)
	}

	issue := database.Issue{Key: data.Key}
	err = g.db.WithContext(ctx).Where("key = ?", data.Key).
		Assign(database.Issue{
			ProjectID: project.ID,
			Summary:   data.Summary,
			Status:    data.Status,
			IssueType: data.IssueType,
			Priority:  data.Priority,
			Assignee:  data.Assignee,
			SyncedAt:  g.clock().UTC(),
		}).
		FirstOrCreate(&issue).Error
	if err != nil {
		return apperr.Wrap(apperr.CodeDB, err, "failed to upsert issue %s", data.Key)
	}
	return nil
}

// UpsertPullRequest writes a GitHub pull request into the store keyed by
// (repository, number). The repository must already be known.
func (g *Gateway) UpsertPullRequest(ctx context.Context, data upstream.PullData) error {
	if data.Repo == "" || data.Number <= 0 {
		return apperr.New(apperr.CodeValidation, "pull request requires a repository and a positive number")
	}

	var repo database.Repository
	err := g.db.WithContext(ctx).Where("full_name = ?", data.Repo).First(&repo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.CodeNotFound, "GitHub repo not found: %s", data.Repo)
		}
		return apperr.Wrap(apperr.CodeDB, err, "failed to look up repository %s", data.Repo)
	}

	pr := database.PullRequest{RepositoryID: repo.ID, Number: data.Number}
	err = g.db.WithContext(ctx).
		Where("repository_id = ? AND number = ?", repo.ID, data.Number).
		Assign(database.PullRequest{
			Title:    data.Title,
			State:    data.State,
			Author:   data.Author,
			HeadRef:  data.HeadRef,
			BaseRef:  data.BaseRef,
			SyncedAt: g.clock().UTC(),
		}).
		FirstOrCreate(&pr).Error
	if err != nil {
		return apperr.Wrap(apperr.CodeDB, err, "failed to upsert pull request %s#%d", data.Repo, data.Number)
	}
	return nil
}
