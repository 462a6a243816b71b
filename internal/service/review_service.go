package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/repository"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type reviewRepository interface {
	Create(ctx context.Context, review *models.Review) error
	FindByID(ctx context.Context, id string) (*models.ReviewDetail, error)
	HasPending(ctx context.Context, gradeID string) (bool, error)
	List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewDetail, int, error)
	Decide(ctx context.Context, decision models.ReviewDecision) (*models.Review, error)
}

type commentRepository interface {
	Create(ctx context.Context, comment *models.ReviewComment) error
	FindByID(ctx context.Context, id string) (*models.ReviewComment, error)
	ListTopLevel(ctx context.Context, reviewID string) ([]models.ReviewComment, error)
	ListReplies(ctx context.Context, parentID string) ([]models.ReviewComment, error)
	TopLevelAuthors(ctx context.Context, reviewID string) ([]string, error)
	ReplyAuthors(ctx context.Context, parentID string) ([]string, error)
	UpdateContent(ctx context.Context, id, content string) (*models.ReviewComment, error)
	Delete(ctx context.Context, id string) error
}

type teacherLister interface {
	TeacherIDs(ctx context.Context, classID string) ([]string, error)
}

type reviewClassAccess interface {
	classAuthorizer
	teacherLister
}

// ReviewService runs the grade review state machine
// (PENDING -> ACCEPTED | REJECTED) and its comment threads.
type ReviewService struct {
	repo      reviewRepository
	comments  commentRepository
	grades    gradeReader
	students  rosterReader
	classes   reviewClassAccess
	cache     gradeBoardCache
	notifier  notifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewReviewService constructs a ReviewService.
func NewReviewService(repo reviewRepository, comments commentRepository, grades gradeReader, students rosterReader, classes reviewClassAccess, cache gradeBoardCache, notifier notifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		repo:      repo,
		comments:  comments,
		grades:    grades,
		students:  students,
		classes:   classes,
		cache:     cache,
		notifier:  notifier,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Create opens a review on a finalized grade. Only the student mapped to the
// grade may request it, and only while no other review on it is pending.
func (s *ReviewService) Create(ctx context.Context, actor models.Actor, req models.CreateReviewRequest) (*models.Review, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	grade, err := s.grades.FindDetail(ctx, req.GradeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	mapped, err := s.students.FindByUser(ctx, grade.ClassID, actor.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mapping")
	}
	if mapped == nil || mapped.ID != grade.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only request reviews of your own grades")
	}
	if !grade.Finalized {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grade composition is not finalized")
	}
	// Students added after finalization hold a null grade that can no longer be set.
	if grade.Value == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grade has no value to review")
	}
	pending, err := s.repo.HasPending(ctx, grade.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending reviews")
	}
	if pending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already have a pending review")
	}

	requester := actor.UserID
	review := &models.Review{
		GradeID:       grade.ID,
		ClassID:       grade.ClassID,
		RequesterID:   &requester,
		Explanation:   strings.TrimSpace(req.Explanation),
		ExpectedGrade: req.ExpectedGrade,
		CurrentGrade:  *grade.Value,
	}
	if err := s.repo.Create(ctx, review); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "already have a pending review")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create review")
	}

	teachers, err := s.classes.TeacherIDs(ctx, grade.ClassID)
	if err != nil {
		s.logger.Warn("review request notification skipped", zap.String("review_id", review.ID), zap.Error(err))
	} else {
		s.notify(ctx, excluding(teachers, actor.UserID), models.NotificationPayload{
			Title:       "Grade review requested",
			Description: fmt.Sprintf("Student %s requested a review of %s", grade.StudentID, grade.CompositionName),
			Type:        models.NotificationReviewRequested,
			Data:        map[string]interface{}{"class_id": grade.ClassID, "review_id": review.ID},
		})
	}
	return review, nil
}

// Get returns a review the caller may see.
func (s *ReviewService) Get(ctx context.Context, actor models.Actor, id string) (*models.ReviewDetail, error) {
	return s.authorize(ctx, actor, id, models.DefaultPermissionOptions())
}

// ListByClass lists reviews of a class. Class students only see their own requests.
func (s *ReviewService) ListByClass(ctx context.Context, actor models.Actor, filter models.ReviewFilter) ([]models.ReviewDetail, *models.Pagination, error) {
	if filter.Status != nil && !validReviewStatus(*filter.Status) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid review status")
	}
	access, err := s.classes.ValidatePermission(ctx, actor, filter.ClassID, models.DefaultPermissionOptions())
	if err != nil {
		return nil, nil, err
	}
	if access.IsStudent() && !actor.IsAdmin() {
		requester := actor.UserID
		filter.RequesterID = &requester
	}
	reviews, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviews")
	}
	page, size, _ := models.PageRequest{Page: filter.Page, PageSize: filter.PageSize}.Normalize()
	return reviews, newPagination(page, size, total), nil
}

// UpdateStatus resolves a PENDING review. ACCEPTED overwrites the grade with
// the final grade in the same transaction, even on a finalized composition.
func (s *ReviewService) UpdateStatus(ctx context.Context, actor models.Actor, id string, req models.UpdateReviewStatusRequest) (*models.Review, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review decision")
	}
	if req.Status == models.ReviewStatusAccepted {
		if req.FinalGrade == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "final grade is required when accepting a review")
		}
		if *req.FinalGrade < 0 || *req.FinalGrade > 100 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "final grade must be between 0 and 100")
		}
	}
	review, err := s.authorize(ctx, actor, id, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return nil, err
	}
	if review.Status != models.ReviewStatusPending {
		return nil, appErrors.Clone(appErrors.ErrReviewNotPending, "review has already been resolved")
	}

	decided, err := s.repo.Decide(ctx, models.ReviewDecision{
		ReviewID:   review.ID,
		GradeID:    review.GradeID,
		Status:     req.Status,
		FinalGrade: req.FinalGrade,
		EndedBy:    actor.UserID,
		DecidedAt:  s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrReviewNotPending, "review has already been resolved")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve review")
	}
	s.metrics.RecordReviewDecision(string(req.Status))
	if req.Status == models.ReviewStatusAccepted && s.cache != nil {
		s.cache.InvalidateGradeBoard(ctx, review.ClassID)
	}

	student, err := s.students.FindByID(ctx, review.ClassID, review.StudentID)
	if err != nil {
		s.logger.Warn("review decision notification skipped", zap.String("review_id", review.ID), zap.Error(err))
	} else if student.UserID != nil {
		s.notify(ctx, []string{*student.UserID}, models.NotificationPayload{
			Title:       "Grade review " + strings.ToLower(string(req.Status)),
			Description: fmt.Sprintf("Your review of %s was %s", review.CompositionName, strings.ToLower(string(req.Status))),
			Type:        models.NotificationReviewDecision,
			Data:        map[string]interface{}{"class_id": review.ClassID, "review_id": review.ID, "status": req.Status},
		})
	}
	return decided, nil
}

// ValidatePermission loads the caller's access to a review and evaluates opts.
func (s *ReviewService) ValidatePermission(ctx context.Context, actor models.Actor, review *models.ReviewDetail, opts models.PermissionOptions) error {
	access, err := s.classes.Access(ctx, actor, review.ClassID)
	if err != nil {
		return err
	}
	input := ReviewAccess{Actor: actor, Member: access.Member, Review: review}
	if access.IsStudent() {
		mapped, err := s.students.FindByUser(ctx, review.ClassID, actor.UserID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mapping")
		}
		if mapped != nil {
			input.MappedStudentID = &mapped.ID
		}
	}
	return EvaluateReviewPermission(input, opts).Err()
}

// Comment adds a top-level comment to a PENDING review.
func (s *ReviewService) Comment(ctx context.Context, actor models.Actor, reviewID string, req models.CommentRequest) (*models.ReviewComment, error) {
	return s.addComment(ctx, actor, reviewID, nil, req)
}

// Reply answers an existing comment of the same PENDING review.
func (s *ReviewService) Reply(ctx context.Context, actor models.Actor, reviewID, parentID string, req models.CommentRequest) (*models.ReviewComment, error) {
	return s.addComment(ctx, actor, reviewID, &parentID, req)
}

func (s *ReviewService) addComment(ctx context.Context, actor models.Actor, reviewID string, parentID *string, req models.CommentRequest) (*models.ReviewComment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	review, err := s.authorize(ctx, actor, reviewID, models.DefaultPermissionOptions())
	if err != nil {
		return nil, err
	}
	if review.Status != models.ReviewStatusPending {
		return nil, appErrors.Clone(appErrors.ErrReviewNotPending, "only pending reviews can be commented on")
	}

	var parent *models.ReviewComment
	var prior []string
	if parentID == nil {
		prior, err = s.comments.TopLevelAuthors(ctx, review.ID)
	} else {
		parent, err = s.findComment(ctx, review.ID, *parentID)
		if err != nil {
			return nil, err
		}
		prior, err = s.comments.ReplyAuthors(ctx, parent.ID)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comment authors")
	}

	author := actor.UserID
	comment := &models.ReviewComment{ReviewID: review.ID, ParentID: parentID, UserID: &author, Content: strings.TrimSpace(req.Content)}
	if err := s.comments.Create(ctx, comment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrReviewNotPending, "only pending reviews can be commented on")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create comment")
	}

	recipients, payload := commentFanOut(actor.UserID, review, parent, prior)
	payload.Data = map[string]interface{}{"class_id": review.ClassID, "review_id": review.ID, "comment_id": comment.ID}
	s.notify(ctx, recipients, payload)
	return comment, nil
}

// commentFanOut picks who hears about a new comment. Top-level comments reach
// the requester and earlier top-level commenters; replies reach earlier
// repliers of the same parent, the parent's author and the requester. The
// actor is never notified.
func commentFanOut(actorID string, review *models.ReviewDetail, parent *models.ReviewComment, priorAuthors []string) ([]string, models.NotificationPayload) {
	recipients := make([]string, 0, len(priorAuthors)+2)
	if review.RequesterID != nil {
		recipients = append(recipients, *review.RequesterID)
	}
	payload := models.NotificationPayload{
		Title:       "New comment on a grade review",
		Description: fmt.Sprintf("Someone commented on the review of %s", review.CompositionName),
		Type:        models.NotificationComment,
	}
	if parent != nil {
		if parent.UserID != nil {
			recipients = append(recipients, *parent.UserID)
		}
		payload.Title = "New reply to a comment"
		payload.Description = fmt.Sprintf("Someone replied in the review of %s", review.CompositionName)
		payload.Type = models.NotificationCommentReply
	}
	recipients = append(recipients, priorAuthors...)
	return excluding(uniqueNonEmpty(recipients), actorID), payload
}

// ListComments returns the top-level comments of a review, newest first.
func (s *ReviewService) ListComments(ctx context.Context, actor models.Actor, reviewID string) ([]models.ReviewComment, error) {
	review, err := s.authorize(ctx, actor, reviewID, models.DefaultPermissionOptions())
	if err != nil {
		return nil, err
	}
	comments, err := s.comments.ListTopLevel(ctx, review.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
	}
	return comments, nil
}

// ListReplies returns the replies to a comment, oldest first.
func (s *ReviewService) ListReplies(ctx context.Context, actor models.Actor, reviewID, commentID string) ([]models.ReviewComment, error) {
	review, err := s.authorize(ctx, actor, reviewID, models.DefaultPermissionOptions())
	if err != nil {
		return nil, err
	}
	if _, err := s.findComment(ctx, review.ID, commentID); err != nil {
		return nil, err
	}
	replies, err := s.comments.ListReplies(ctx, commentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list replies")
	}
	return replies, nil
}

// GetComment returns one comment of a review.
func (s *ReviewService) GetComment(ctx context.Context, actor models.Actor, reviewID, commentID string) (*models.ReviewComment, error) {
	review, err := s.authorize(ctx, actor, reviewID, models.DefaultPermissionOptions())
	if err != nil {
		return nil, err
	}
	return s.findComment(ctx, review.ID, commentID)
}

// UpdateComment edits a comment. Only its author or an admin may edit it.
func (s *ReviewService) UpdateComment(ctx context.Context, actor models.Actor, reviewID, commentID string, req models.CommentRequest) (*models.ReviewComment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	if _, err := s.ownComment(ctx, actor, reviewID, commentID); err != nil {
		return nil, err
	}
	comment, err := s.comments.UpdateContent(ctx, commentID, strings.TrimSpace(req.Content))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "comment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update comment")
	}
	return comment, nil
}

// DeleteComment removes a comment and its replies. Only its author or an admin may delete it.
func (s *ReviewService) DeleteComment(ctx context.Context, actor models.Actor, reviewID, commentID string) error {
	if _, err := s.ownComment(ctx, actor, reviewID, commentID); err != nil {
		return err
	}
	if err := s.comments.Delete(ctx, commentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "comment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete comment")
	}
	return nil
}

func (s *ReviewService) ownComment(ctx context.Context, actor models.Actor, reviewID, commentID string) (*models.ReviewComment, error) {
	comment, err := s.GetComment(ctx, actor, reviewID, commentID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		return comment, nil
	}
	if comment.UserID == nil || *comment.UserID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only change your own comments")
	}
	return comment, nil
}

func (s *ReviewService) findComment(ctx context.Context, reviewID, commentID string) (*models.ReviewComment, error) {
	comment, err := s.comments.FindByID(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "comment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comment")
	}
	if comment.ReviewID != reviewID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "comment not found")
	}
	return comment, nil
}

func (s *ReviewService) authorize(ctx context.Context, actor models.Actor, id string, opts models.PermissionOptions) (*models.ReviewDetail, error) {
	review, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load review")
	}
	if err := s.ValidatePermission(ctx, actor, review, opts); err != nil {
		return nil, err
	}
	return review, nil
}

func (s *ReviewService) notify(ctx context.Context, userIDs []string, payload models.NotificationPayload) {
	if s.notifier == nil || len(userIDs) == 0 {
		return
	}
	s.notifier.NotifyMany(ctx, userIDs, payload)
}

func excluding(ids []string, skip string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}

func validReviewStatus(status models.ReviewStatus) bool {
	switch status {
	case models.ReviewStatusPending, models.ReviewStatusAccepted, models.ReviewStatusRejected:
		return true
	}
	return false
}
