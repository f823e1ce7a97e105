// Package database is the binding store adapter: the only component that
// talks to persistent storage. Redemption atomicity relies on Mongo's
// conditional single-document updates, and the one-active-binding invariants
// are backed by partial unique indexes, so correctness holds across multiple
// orchestrator processes without in-process locks.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mediafetch/entity"
	"mediafetch/internal/config"
)

const (
	collectionUsers         = "users"
	collectionInviteCodes   = "invite_codes"
	collectionBindingCodes  = "binding_codes"
	collectionBindings      = "bindings"
	collectionDeliveryTasks = "delivery_tasks"
)

// Partial unique index names; duplicate-key errors are classified by them.
const (
	indexActiveHome   = "uniq_active_home"
	indexActiveSource = "uniq_active_source"
	indexTaskPair     = "uniq_binding_content"
)

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) *MongoDB {
	if !conf.Mongo.Enabled {
		return nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
	return client
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", entity.ErrStoreUnavailable, err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	_ = connection.Disconnect(m.ctx)
}

func (m *MongoDB) findError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	return fmt.Errorf("mongodb find: %w", err)
}

// EnsureIndexes creates the indexes the binding invariants depend on.
// Called once on startup; safe to repeat.
func (m *MongoDB) EnsureIndexes() error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	db := connection.Database(m.database)

	_, err = db.Collection(collectionBindingCodes).Indexes().CreateOne(m.ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("binding_codes index: %w", err)
	}

	activeFilter := bson.D{{Key: "active", Value: true}}
	_, err = db.Collection(collectionBindings).Indexes().CreateMany(m.ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "home_account_id", Value: 1}},
			Options: options.Index().
				SetName(indexActiveHome).
				SetUnique(true).
				SetPartialFilterExpression(activeFilter),
		},
		{
			Keys: bson.D{{Key: "source_account_id", Value: 1}},
			Options: options.Index().
				SetName(indexActiveSource).
				SetUnique(true).
				SetPartialFilterExpression(activeFilter),
		},
	})
	if err != nil {
		return fmt.Errorf("bindings indexes: %w", err)
	}

	_, err = db.Collection(collectionDeliveryTasks).Indexes().CreateOne(m.ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "binding_id", Value: 1}, {Key: "content_ref", Value: 1}},
		Options: options.Index().SetName(indexTaskPair).SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("delivery_tasks index: %w", err)
	}

	_, err = db.Collection(collectionInviteCodes).Indexes().CreateOne(m.ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("invite_codes index: %w", err)
	}
	return nil
}

// --- binding codes ---

func (m *MongoDB) GetCode(code string) (*entity.BindingCode, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionBindingCodes)
	filter := bson.D{{Key: "code", Value: code}}
	var bc entity.BindingCode
	err = collection.FindOne(m.ctx, filter).Decode(&bc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, m.findError(err)
	}
	return &bc, nil
}

func (m *MongoDB) PutCodeIfAbsent(code *entity.BindingCode) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionBindingCodes)
	_, err = collection.InsertOne(m.ctx, code)
	if mongo.IsDuplicateKeyError(err) {
		return entity.ErrCodeCollision
	}
	return err
}

func (m *MongoDB) GetPendingCodeByHome(homeAccountId int64) (*entity.BindingCode, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionBindingCodes)
	filter := bson.D{
		{Key: "home_account_id", Value: homeAccountId},
		{Key: "used", Value: false},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: time.Now()}}},
	}
	var bc entity.BindingCode
	err = collection.FindOne(m.ctx, filter).Decode(&bc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, m.findError(err)
	}
	return &bc, nil
}

// MarkCodeUsedAndCreateBinding burns the code and creates the active binding
// as one logical operation. The code flip is a conditional single-document
// update, so concurrent redemptions of the same code have exactly one winner;
// the binding insert is guarded by the partial unique indexes, and any insert
// failure releases the code again so a redemption that produced no binding
// does not burn it.
func (m *MongoDB) MarkCodeUsedAndCreateBinding(code string, binding *entity.Binding) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	db := connection.Database(m.database)
	codes := db.Collection(collectionBindingCodes)

	now := time.Now()
	filter := bson.D{
		{Key: "code", Value: code},
		{Key: "used", Value: false},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "used", Value: true},
		{Key: "used_at", Value: now},
		{Key: "source_username_hint", Value: binding.SourceAccountId},
	}}}
	err = codes.FindOneAndUpdate(m.ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return m.classifyDeadCode(codes, code)
	}
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}

	_, err = db.Collection(collectionBindings).InsertOne(m.ctx, binding)
	if mongo.IsDuplicateKeyError(err) {
		m.releaseCode(codes, code)
		if strings.Contains(err.Error(), indexActiveSource) {
			return entity.ErrSourceAlreadyBound
		}
		return entity.ErrHomeAlreadyBound
	}
	if err != nil {
		// The code is already flipped but no binding exists. Release it so
		// the user's retry redeems normally instead of hitting "already used".
		m.releaseCode(codes, code)
		return fmt.Errorf("create binding: %w: %v", entity.ErrStoreUnavailable, err)
	}
	return nil
}

// classifyDeadCode explains why the conditional update matched nothing.
func (m *MongoDB) classifyDeadCode(codes *mongo.Collection, code string) error {
	var bc entity.BindingCode
	err := codes.FindOne(m.ctx, bson.D{{Key: "code", Value: code}}).Decode(&bc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return entity.ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("classify code: %w", err)
	}
	if bc.Used {
		return entity.ErrCodeAlreadyUsed
	}
	return entity.ErrCodeExpired
}

func (m *MongoDB) releaseCode(codes *mongo.Collection, code string) {
	_, _ = codes.UpdateOne(m.ctx,
		bson.D{{Key: "code", Value: code}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "used", Value: false}}},
			{Key: "$unset", Value: bson.D{{Key: "used_at", Value: ""}, {Key: "source_username_hint", Value: ""}}},
		},
	)
}

func (m *MongoDB) DeleteExpiredCodes(before time.Time) (int64, error) {
	connection, err := m.connect()
	if err != nil {
		return 0, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionBindingCodes)
	filter := bson.D{
		{Key: "used", Value: false},
		{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: before}}},
	}
	res, err := collection.DeleteMany(m.ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// --- bindings ---

func (m *MongoDB) GetActiveBindingByHome(homeAccountId int64) (*entity.Binding, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionBindings)
	filter := bson.D{{Key: "home_account_id", Value: homeAccountId}, {Key: "active", Value: true}}
	var b entity.Binding
	err = collection.FindOne(m.ctx, filter).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, m.findError(err)
	}
	return &b, nil
}

func (m *MongoDB) GetActiveBindingsBySource(sourceAccountId string) ([]*entity.Binding, error) {
	return m.findBindings(bson.D{{Key: "source_account_id", Value: sourceAccountId}, {Key: "active", Value: true}})
}

func (m *MongoDB) GetActiveBindings() ([]*entity.Binding, error) {
	return m.findBindings(bson.D{{Key: "active", Value: true}})
}

func (m *MongoDB) ListBindingsByHome(homeAccountId int64) ([]*entity.Binding, error) {
	return m.findBindings(bson.D{{Key: "home_account_id", Value: homeAccountId}})
}

func (m *MongoDB) findBindings(filter bson.D) ([]*entity.Binding, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionBindings)
	cursor, err := collection.Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(m.ctx)

	var bindings []*entity.Binding
	err = cursor.All(m.ctx, &bindings)
	if err != nil {
		return nil, err
	}
	return bindings, nil
}

func (m *MongoDB) DeactivateBinding(id string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionBindings)
	filter := bson.D{{Key: "id", Value: id}, {Key: "active", Value: true}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "active", Value: false},
		{Key: "revoked_at", Value: time.Now()},
	}}}
	_, err = collection.UpdateOne(m.ctx, filter, update)
	return err
}

// --- delivery tasks ---

// CreateDeliveryTask inserts the task unless one already exists for the same
// (binding, content item) pair. Reports false on the duplicate, which is how
// re-delivered feed events are absorbed.
func (m *MongoDB) CreateDeliveryTask(task *entity.DeliveryTask) (bool, error) {
	connection, err := m.connect()
	if err != nil {
		return false, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionDeliveryTasks)
	_, err = collection.InsertOne(m.ctx, task)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetDeliveryTask loads the task for one (binding, content item) pair.
// Returns (nil, nil) when no task exists.
func (m *MongoDB) GetDeliveryTask(bindingId, contentRef string) (*entity.DeliveryTask, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionDeliveryTasks)
	filter := bson.D{{Key: "binding_id", Value: bindingId}, {Key: "content_ref", Value: contentRef}}
	var task entity.DeliveryTask
	err = collection.FindOne(m.ctx, filter).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, m.findError(err)
	}
	return &task, nil
}

func (m *MongoDB) UpdateDeliveryTask(id string, status entity.DeliveryStatus, errorDetail string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionDeliveryTasks)
	set := bson.D{
		{Key: "status", Value: status},
		{Key: "completed_at", Value: time.Now()},
	}
	if errorDetail != "" {
		set = append(set, bson.E{Key: "error_detail", Value: errorDetail})
	}
	filter := bson.D{{Key: "id", Value: id}}
	update := bson.D{{Key: "$set", Value: set}}
	_, err = collection.UpdateOne(m.ctx, filter, update)
	return err
}

// ListFailedDeliveryTasks returns recent failed tasks for operator review.
func (m *MongoDB) ListFailedDeliveryTasks(since time.Time) ([]*entity.DeliveryTask, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionDeliveryTasks)
	filter := bson.D{
		{Key: "status", Value: entity.DeliveryFailed},
		{Key: "created_at", Value: bson.D{{Key: "$gt", Value: since}}},
	}
	cursor, err := collection.Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(m.ctx)

	var tasks []*entity.DeliveryTask
	err = cursor.All(m.ctx, &tasks)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// --- users ---

func (m *MongoDB) GetUser(token string) (*entity.User, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{{Key: "token", Value: token}}
	var user entity.User
	err = collection.FindOne(m.ctx, filter).Decode(&user)
	return &user, err
}

func (m *MongoDB) GetAllTelegramUsers() ([]*entity.User, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{{Key: "telegram_id", Value: bson.D{{Key: "$gt", Value: 0}}}}
	cursor, err := collection.Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(m.ctx)

	var users []*entity.User
	err = cursor.All(m.ctx, &users)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (m *MongoDB) RegisterTelegramUser(telegramId int64, username string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{{Key: "telegram_id", Value: telegramId}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "telegram_username", Value: username},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "username", Value: fmt.Sprintf("tg-%d", telegramId)},
			{Key: "telegram_id", Value: telegramId},
			{Key: "telegram_role", Value: entity.RolePending},
			{Key: "telegram_enabled", Value: false},
			{Key: "registered_at", Value: time.Now()},
		}},
	}
	opts := options.Update().SetUpsert(true)
	_, err = collection.UpdateOne(m.ctx, filter, update, opts)
	return err
}

func (m *MongoDB) SetTelegramRole(telegramId int64, role entity.TelegramRole) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{{Key: "telegram_id", Value: telegramId}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "telegram_role", Value: role},
		{Key: "telegram_enabled", Value: role == entity.RoleUser || role == entity.RoleAdmin},
	}}}
	_, err = collection.UpdateOne(m.ctx, filter, update)
	return err
}

func (m *MongoDB) SetTelegramEnabled(telegramId int64, isActive bool) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{{Key: "telegram_id", Value: telegramId}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "telegram_enabled", Value: isActive},
	}}}
	_, err = collection.UpdateOne(m.ctx, filter, update)
	return err
}

// --- invite codes ---

func (m *MongoDB) CreateInviteCode(code *entity.InviteCode) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionInviteCodes)
	_, err = collection.InsertOne(m.ctx, code)
	return err
}

// UseInviteCode atomically claims one use of the invite code.
func (m *MongoDB) UseInviteCode(code string, telegramId int64) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionInviteCodes)
	filter := bson.D{
		{Key: "code", Value: code},
		{Key: "$expr", Value: bson.D{{Key: "$lt", Value: bson.A{"$use_count", "$max_uses"}}}},
	}
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "use_count", Value: 1}}},
		{Key: "$set", Value: bson.D{{Key: "used_by", Value: telegramId}, {Key: "used_at", Value: time.Now()}}},
	}
	err = collection.FindOneAndUpdate(m.ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("invite code not valid")
	}
	return err
}
