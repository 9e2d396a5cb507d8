package store

import (
	"context"
	"errors"
	"regexp"
	"time"

	"civicsync-dispatch/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ Store = (*MongoStore)(nil)

// MongoStore keeps each collection in MongoDB. Conditional writes filter on the
// version field so a single-document update is the compare-and-set.
type MongoStore struct {
	issues   *mongo.Collection
	officers *mongo.Collection
	users    *mongo.Collection
	votes    *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		issues:   db.Collection("issues"),
		officers: db.Collection("officers"),
		users:    db.Collection("users"),
		votes:    db.Collection("votes"),
	}
}

// EnsureIndexes creates the query and uniqueness indexes for every collection
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	issueIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "submittedBy", Value: 1}}},
		{Keys: bson.D{{Key: "assignedTo", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "urgency", Value: 1}}},
		{Keys: bson.D{{Key: "department", Value: 1}}},
		{Keys: bson.D{{Key: "submittedDate", Value: -1}}},
	}
	if _, err := s.issues.Indexes().CreateMany(ctx, issueIndexes); err != nil {
		return err
	}

	officerIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "department", Value: 1}, {Key: "availability", Value: 1}}},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	if _, err := s.officers.Indexes().CreateMany(ctx, officerIndexes); err != nil {
		return err
	}

	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}

	_, err := s.votes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "issue", Value: 1}, {Key: "user", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func insertErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// missOrConflict tells a vanished document apart from one whose guard no longer holds.
func missOrConflict(ctx context.Context, coll *mongo.Collection, id primitive.ObjectID) error {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *MongoStore) InsertIssue(ctx context.Context, issue *models.Issue) error {
	if issue.ID.IsZero() {
		issue.ID = primitive.NewObjectID()
	}
	_, err := s.issues.InsertOne(ctx, issue)
	return insertErr(err)
}

func (s *MongoStore) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	var issue models.Issue
	if err := s.issues.FindOne(ctx, bson.M{"_id": id}).Decode(&issue); err != nil {
		return nil, notFound(err)
	}
	return &issue, nil
}

func issueQuery(f IssueFilter) bson.M {
	filter := bson.M{}

	status := bson.M{}
	if len(f.Statuses) > 0 {
		status["$in"] = f.Statuses
	}
	if len(f.NotStatuses) > 0 {
		status["$nin"] = f.NotStatuses
	}
	if len(status) > 0 {
		filter["status"] = status
	}
	if f.Urgency != "" {
		filter["urgency"] = f.Urgency
	}
	if f.Department != "" {
		filter["department"] = f.Department
	}
	if f.AssignedTo != nil {
		filter["assignedTo"] = *f.AssignedTo
	}
	if f.SubmittedBy != nil {
		filter["submittedBy"] = *f.SubmittedBy
	}
	if f.Search != "" {
		pattern := regexp.QuoteMeta(f.Search)
		filter["$or"] = []bson.M{
			{"title": bson.M{"$regex": pattern, "$options": "i"}},
			{"description": bson.M{"$regex": pattern, "$options": "i"}},
			{"location": bson.M{"$regex": pattern, "$options": "i"}},
		}
	}
	return filter
}

func (s *MongoStore) QueryIssues(ctx context.Context, f IssueFilter) ([]models.Issue, error) {
	order := -1
	if f.Oldest {
		order = 1
	}
	findOptions := options.Find().
		SetSort(bson.D{{Key: "submittedDate", Value: order}, {Key: "_id", Value: 1}})
	if f.Skip > 0 {
		findOptions.SetSkip(f.Skip)
	}
	if f.Limit > 0 {
		findOptions.SetLimit(f.Limit)
	}

	cursor, err := s.issues.Find(ctx, issueQuery(f), findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	issues := make([]models.Issue, 0)
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (s *MongoStore) CountIssues(ctx context.Context, f IssueFilter) (int64, error) {
	return s.issues.CountDocuments(ctx, issueQuery(f))
}

func (s *MongoStore) UpdateIssue(ctx context.Context, id primitive.ObjectID, expectedVersion int64, change IssueChange) (*models.Issue, error) {
	set := bson.M{
		"status":    change.Status,
		"updatedAt": change.UpdatedAt,
	}
	if change.AssignedTo != nil && !change.ClearAssignee {
		set["assignedTo"] = *change.AssignedTo
	}
	if change.ResolutionNotes != "" {
		set["resolutionNotes"] = change.ResolutionNotes
	}
	if change.ResolvedAt != nil {
		set["resolvedAt"] = *change.ResolvedAt
	}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"statusHistory": change.History},
		"$inc":  bson.M{"version": 1},
	}
	if change.ClearAssignee {
		update["$unset"] = bson.M{"assignedTo": ""}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var issue models.Issue
	err := s.issues.FindOneAndUpdate(ctx, bson.M{"_id": id, "version": expectedVersion}, update, opts).Decode(&issue)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, missOrConflict(ctx, s.issues, id)
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (s *MongoStore) AdvanceEscalation(ctx context.Context, id primitive.ObjectID, from, to models.EscalationLevel, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":             id,
		"escalationLevel": from,
		"status":          bson.M{"$nin": []models.IssueStatus{models.Resolved, models.Rejected}},
	}
	res, err := s.issues.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"escalationLevel": to, "updatedAt": at}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		err := missOrConflict(ctx, s.issues, id)
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MongoStore) AddComment(ctx context.Context, id primitive.ObjectID, comment models.Comment) (*models.Issue, error) {
	update := bson.M{
		"$push": bson.M{"comments": comment},
		"$set":  bson.M{"updatedAt": comment.CreatedAt},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var issue models.Issue
	if err := s.issues.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&issue); err != nil {
		return nil, notFound(err)
	}
	return &issue, nil
}

func countWhen(field, value string) bson.M {
	return bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$" + field, value}}, 1, 0}}}
}

func (s *MongoStore) IssueStats(ctx context.Context) (models.IssueStats, error) {
	pipeline := []bson.M{
		{
			"$group": bson.M{
				"_id":        nil,
				"total":      bson.M{"$sum": 1},
				"pending":    countWhen("status", string(models.Pending)),
				"inReview":   countWhen("status", string(models.InReview)),
				"inProgress": countWhen("status", string(models.InProgress)),
				"resolved":   countWhen("status", string(models.Resolved)),
				"rejected":   countWhen("status", string(models.Rejected)),
				"high":       countWhen("urgency", string(models.UrgencyHigh)),
				"medium":     countWhen("urgency", string(models.UrgencyMedium)),
				"low":        countWhen("urgency", string(models.UrgencyLow)),
			},
		},
	}

	cursor, err := s.issues.Aggregate(ctx, pipeline)
	if err != nil {
		return models.IssueStats{}, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total      int64 `bson:"total"`
		Pending    int64 `bson:"pending"`
		InReview   int64 `bson:"inReview"`
		InProgress int64 `bson:"inProgress"`
		Resolved   int64 `bson:"resolved"`
		Rejected   int64 `bson:"rejected"`
		High       int64 `bson:"high"`
		Medium     int64 `bson:"medium"`
		Low        int64 `bson:"low"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return models.IssueStats{}, err
	}
	if len(rows) == 0 {
		return models.IssueStats{}, nil
	}
	r := rows[0]
	return models.IssueStats{
		Total: r.Total, Pending: r.Pending, InReview: r.InReview, InProgress: r.InProgress,
		Resolved: r.Resolved, Rejected: r.Rejected, High: r.High, Medium: r.Medium, Low: r.Low,
	}, nil
}

func (s *MongoStore) InsertOfficer(ctx context.Context, officer *models.Officer) error {
	if officer.ID.IsZero() {
		officer.ID = primitive.NewObjectID()
	}
	_, err := s.officers.InsertOne(ctx, officer)
	return insertErr(err)
}

func (s *MongoStore) GetOfficer(ctx context.Context, id primitive.ObjectID) (*models.Officer, error) {
	var officer models.Officer
	if err := s.officers.FindOne(ctx, bson.M{"_id": id}).Decode(&officer); err != nil {
		return nil, notFound(err)
	}
	return &officer, nil
}

func (s *MongoStore) GetOfficerByUser(ctx context.Context, userID primitive.ObjectID) (*models.Officer, error) {
	var officer models.Officer
	if err := s.officers.FindOne(ctx, bson.M{"userId": userID}).Decode(&officer); err != nil {
		return nil, notFound(err)
	}
	return &officer, nil
}

func (s *MongoStore) QueryOfficers(ctx context.Context, f OfficerFilter) ([]models.Officer, error) {
	filter := bson.M{}
	if f.Department != "" {
		filter["department"] = f.Department
	}
	if f.Availability != "" {
		filter["availability"] = f.Availability
	}

	cursor, err := s.officers.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	officers := make([]models.Officer, 0)
	if err := cursor.All(ctx, &officers); err != nil {
		return nil, err
	}
	return officers, nil
}

func (s *MongoStore) UpdateOfficerWorkload(ctx context.Context, id primitive.ObjectID, expectedVersion int64, current int, availability models.Availability, at time.Time) (*models.Officer, error) {
	update := bson.M{
		"$set": bson.M{
			"currentIssues": current,
			"availability":  availability,
			"updatedAt":     at,
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var officer models.Officer
	err := s.officers.FindOneAndUpdate(ctx, bson.M{"_id": id, "version": expectedVersion}, update, opts).Decode(&officer)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, missOrConflict(ctx, s.officers, id)
	}
	if err != nil {
		return nil, err
	}
	return &officer, nil
}

func (s *MongoStore) CountOpenAssignments(ctx context.Context, officerID primitive.ObjectID) (int, error) {
	n, err := s.issues.CountDocuments(ctx, bson.M{
		"assignedTo": officerID,
		"status":     bson.M{"$in": []models.IssueStatus{models.InReview, models.InProgress}},
	})
	return int(n), err
}

func (s *MongoStore) InsertUser(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	_, err := s.users.InsertOne(ctx, user)
	return insertErr(err)
}

func (s *MongoStore) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&user); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *MongoStore) ToggleVote(ctx context.Context, issueID, userID primitive.ObjectID, at time.Time) (bool, int64, error) {
	n, err := s.issues.CountDocuments(ctx, bson.M{"_id": issueID})
	if err != nil {
		return false, 0, err
	}
	if n == 0 {
		return false, 0, ErrNotFound
	}

	voted := false
	res, err := s.votes.DeleteOne(ctx, bson.M{"issue": issueID, "user": userID})
	if err != nil {
		return false, 0, err
	}
	if res.DeletedCount == 0 {
		vote := models.Vote{ID: primitive.NewObjectID(), Issue: issueID, User: userID, CreatedAt: at}
		if _, err := s.votes.InsertOne(ctx, vote); err != nil && !mongo.IsDuplicateKeyError(err) {
			return false, 0, err
		}
		voted = true
	}

	count, err := s.CountVotes(ctx, issueID)
	return voted, count, err
}

func (s *MongoStore) CountVotes(ctx context.Context, issueID primitive.ObjectID) (int64, error) {
	return s.votes.CountDocuments(ctx, bson.M{"issue": issueID})
}
