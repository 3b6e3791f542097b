package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/pathlight-learn/pathlight-lms/internal/api/http"
	"github.com/pathlight-learn/pathlight-lms/internal/assessment"
	"github.com/pathlight-learn/pathlight-lms/internal/audit"
	auth "github.com/pathlight-learn/pathlight-lms/internal/auth/middleware"
	"github.com/pathlight-learn/pathlight-lms/internal/catalog"
	"github.com/pathlight-learn/pathlight-lms/internal/certificate"
	"github.com/pathlight-learn/pathlight-lms/internal/config"
	"github.com/pathlight-learn/pathlight-lms/internal/db"
	"github.com/pathlight-learn/pathlight-lms/internal/notify"
	"github.com/pathlight-learn/pathlight-lms/internal/progress"
	"github.com/pathlight-learn/pathlight-lms/internal/rbac"
	"github.com/pathlight-learn/pathlight-lms/internal/storage"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}

	// --- Stores and engine ---
	sessions := assessment.NewSQLStore(dbh, cfg.DBDriver)
	content := catalog.NewSQLStore(dbh)
	prog := progress.NewSQLStore(dbh)

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	issuer := certificate.NewIssuer(dbh, certificate.NewSVGRenderer(bs), time.Now)

	policy := assessment.PolicyFromConfig(cfg)
	gate := assessment.NewGate(content, prog, sessions, sessions, policy, time.Now)
	engine := assessment.NewService(assessment.ServiceDeps{
		Store:        sessions,
		Bank:         sessions,
		Gate:         gate,
		Catalog:      content,
		Progress:     prog,
		Certificates: issuer,
		Notifier:     notify.Console{},
		Events:       audit.NewLog(dbh),
		Policy:       policy,
	})

	// Background sweep; lazy expiry on reads covers restarts in between.
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go assessment.NewReaper(sessions, cfg.ReaperInterval).Run(reaperCtx)

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := cfg.CORSOriginsOffline
	if cfg.Mode == config.ModeOnline {
		origins = cfg.CORSOriginsOnline
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))

	// Public certificate verification.
	r.Get("/certificates/verify/{code}", api.VerifyCertificateHandler(dbh))

	// Assets (certificate images) behind auth.
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Route("/assets", func(ar chi.Router) {
			api.MountAssets(ar, bs)
		})
	})

	// Protected API (JWT -> subject/role in context -> RBAC).
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		// Timed assessment flow.
		pr.With(rbac.Require("assessment:view")).
			Get("/assessments/{scopeType}/{scopeID}/eligibility", api.EligibilityHandler(engine))
		pr.With(rbac.Require("session:start")).
			Post("/assessments/{scopeType}/{scopeID}/sessions", api.StartSessionHandler(engine))
		pr.With(rbac.Require("session:view")).
			Get("/sessions/{sessionID}", api.GetSessionHandler(engine))
		pr.With(rbac.Require("session:answer")).
			Post("/sessions/{sessionID}/answers", api.RecordAnswerHandler(engine))
		pr.With(rbac.Require("session:submit")).
			Post("/sessions/{sessionID}/submit", api.SubmitSessionHandler(engine))
		pr.With(rbac.Require("session:abandon")).
			Post("/sessions/{sessionID}/abandon", api.AbandonSessionHandler(engine))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(engine))

		// Progress.
		pr.With(rbac.RequireAny("progress:view", "progress:view-all")).
			Get("/courses/{courseID}/progress", api.GetProgressHandler(prog))
		pr.With(rbac.Require("progress:record")).
			Post("/lessons/{lessonID}/complete", api.CompleteLessonHandler(prog, content))

		// Catalog admin.
		pr.With(rbac.Require("catalog:manage")).
			Post("/courses", api.PutCourseHandler(content))
		pr.Get("/courses", api.ListCoursesHandler(content))
		pr.Get("/courses/{courseID}", api.GetCourseHandler(content))
		pr.With(rbac.Require("catalog:manage")).
			Post("/chapters", api.PutChapterHandler(content))
		pr.With(rbac.Require("catalog:manage")).
			Post("/lessons", api.PutLessonHandler(content))
		pr.With(rbac.Require("catalog:manage")).
			Post("/questions", api.PutQuestionHandler(content))
		pr.With(rbac.Require("catalog:manage")).
			Delete("/questions/{questionID}", api.DeleteQuestionHandler(content))

		// Users.
		pr.With(rbac.Require("users:bulk_upsert")).
			Post("/users/bulk", api.BulkUpsertUsersHandler(dbh))
		pr.With(rbac.Require("users:list")).
			Get("/users", api.ListUsersHandler(dbh))
		pr.With(rbac.Require("user:change_password")).
			Post("/users/change-password", api.ChangePasswordHandler(dbh))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
