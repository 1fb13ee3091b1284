// Package mocks provides gomock implementations of the inkwell collaborator ports.
//
// The mocks are generated with go.uber.org/mock (mockgen) from the interfaces in
// internal/core. Repositories are usually exercised through internal/data/memstore;
// the mocks cover external collaborators and cases memstore cannot express.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	gen := mocks.NewMockContentGenerator(ctrl)
//	gen.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(core.GenerateResponse{Raw: doc}, nil)
package mocks

// ContentGenerator: Generate
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=content_generator_mock.go github.com/target/inkwell/internal/core ContentGenerator

// EmailSender: Send
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=email_sender_mock.go github.com/target/inkwell/internal/core EmailSender

// ReaperRepository: RecoverStaleJobs
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/target/inkwell/internal/core ReaperRepository

// Locker and Lease back the dispatch overlap lock.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=locker_mock.go github.com/target/inkwell/internal/core Locker
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=lease_mock.go github.com/target/inkwell/internal/core Lease
