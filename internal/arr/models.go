// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import "time"

// Tracked download states reported by the *arr queue API.
const (
	StateImportFailed  = "importfailed"
	StateImportBlocked = "importblocked"
	StateImportPending = "importpending"
	StateImporting     = "importing"
	StateSeeding       = "seeding"
)

// Protocols a queue item can use.
const (
	ProtocolTorrent = "torrent"
	ProtocolUsenet  = "usenet"
)

// QueueItem is one entry in an *arr download queue. Produced fresh by every
// poll; never mutated locally.
type QueueItem struct {
	ID                      int64           `json:"id"`
	Title                   string          `json:"title"`
	Status                  string          `json:"status"`
	TrackedDownloadStatus   string          `json:"trackedDownloadStatus"`
	TrackedDownloadState    string          `json:"trackedDownloadState"`
	StatusMessages          []StatusMessage `json:"statusMessages"`
	ErrorMessage            string          `json:"errorMessage"`
	DownloadID              string          `json:"downloadId"`
	Protocol                string          `json:"protocol"`
	DownloadClient          string          `json:"downloadClient"`
	Indexer                 string          `json:"indexer"`
	Size                    int64           `json:"size"`
	SizeLeft                int64           `json:"sizeleft"`
	Added                   time.Time       `json:"added"`
	EstimatedCompletionTime *time.Time      `json:"estimatedCompletionTime"`
	Tags                    []string        `json:"tags"`
	Category                string          `json:"downloadClientCategory,omitempty"`
}

// StatusMessage carries detail lines attached to a queue item.
type StatusMessage struct {
	Title    string   `json:"title"`
	Messages []string `json:"messages"`
}

// QueueResponse is the paginated queue payload.
type QueueResponse struct {
	Page         int         `json:"page"`
	PageSize     int         `json:"pageSize"`
	TotalRecords int         `json:"totalRecords"`
	Records      []QueueItem `json:"records"`
}

// DeleteOptions maps to the query parameters of DELETE /api/v3/queue/{id}.
type DeleteOptions struct {
	RemoveFromClient bool
	Blocklist        bool
	SkipRedownload   bool
	ChangeCategory   bool
}

// StatusTexts flattens a queue item's status messages, preserving source
// order, and appends the error message when present. This is the text corpus
// all keyword rules match against.
func (q *QueueItem) StatusTexts() []string {
	var texts []string
	for _, sm := range q.StatusMessages {
		if sm.Title != "" {
			texts = append(texts, sm.Title)
		}
		for _, msg := range sm.Messages {
			if msg != "" {
				texts = append(texts, msg)
			}
		}
	}
	if q.ErrorMessage != "" {
		texts = append(texts, q.ErrorMessage)
	}
	return texts
}
