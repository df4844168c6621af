package service

import "errors"

// Domain errors surfaced by the attempt lifecycle. Handlers map these to
// HTTP codes; everything else is treated as internal.
var (
	ErrExamNotAvailable     = errors.New("exam is not available for attempts")
	ErrAttemptLimitExceeded = errors.New("allowed attempts exhausted")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrNotOwner             = errors.New("attempt belongs to another student")
	ErrAttemptNotInProgress = errors.New("attempt is not in progress")
	ErrQuestionNotInAttempt = errors.New("question is not part of the attempt")

	ErrNotExamAuthor = errors.New("not the author of this exam")
	ErrExamNotDraft  = errors.New("exam status is not DRAFT")
	ErrNoQuestions   = errors.New("exam has no questions")
)
