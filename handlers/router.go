package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(app App) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)
	mux.Use(SessionMiddleware)
	mux.Use(AuthMiddleware(app))

	// Locally stored media
	uploadDir := app.Settings().UploadDir
	mux.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadDir))))

	mux.Get("/unsubscribe", MakeHandler(app, HandleUnsubscribe))

	// Live views
	mux.Get("/ws/poems", MakeHandler(app, HandlePoemsSocket))
	mux.Get("/ws/poems/{poemID}/comments", MakeHandler(app, HandleCommentsSocket))

	mux.Route("/api", func(r chi.Router) {
		r.Get("/status", MakeHandler(app, HandleStatus))

		r.Post("/auth/login", MakeHandler(app, HandleLogin))
		r.Post("/auth/logout", MakeHandler(app, HandleLogout))
		r.With(RequireUser(app)).Get("/auth/me", MakeHandler(app, HandleMe))

		r.Get("/prefs", MakeHandler(app, HandleGetPrefs))
		r.Put("/prefs", MakeHandler(app, HandlePutPrefs))

		r.Get("/poems", MakeHandler(app, HandleListPoems))
		r.Get("/poems/pinned", MakeHandler(app, HandlePinnedPoems))
		r.Get("/poems/{poemID}", MakeHandler(app, HandleGetPoem))
		r.Get("/poems/{poemID}/like", MakeHandler(app, HandlePoemLikeStatus))
		r.Post("/poems/{poemID}/like", MakeHandler(app, HandleLikePoem))
		r.Delete("/poems/{poemID}/like", MakeHandler(app, HandleUnlikePoem))
		r.Get("/search", MakeHandler(app, HandleSearch))

		r.Get("/poems/{poemID}/comments", MakeHandler(app, HandleListComments))
		r.Post("/poems/{poemID}/comments", MakeHandler(app, HandleSubmitComment))
		r.Post("/comments/{commentID}/report", MakeHandler(app, HandleReportComment))
		r.Get("/comments/{commentID}/like", MakeHandler(app, HandleCommentLikeStatus))
		r.Post("/comments/{commentID}/like", MakeHandler(app, HandleLikeComment))
		r.Delete("/comments/{commentID}/like", MakeHandler(app, HandleUnlikeComment))

		r.Post("/botcheck", MakeHandler(app, HandleIssueBotCheck))
		r.Post("/botcheck/verify", MakeHandler(app, HandleVerifyBotCheck))

		r.Post("/subscribers", MakeHandler(app, HandleSubscribe))
		r.With(RequireAdmin(app)).Post("/send-email", MakeHandler(app, HandleSendEmail))

		// Administration
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(app))
			r.Get("/poems", MakeHandler(app, HandleAdminListPoems))
			r.Post("/poems", MakeHandler(app, HandleCreatePoem))
			r.Patch("/poems/{poemID}", MakeHandler(app, HandleUpdatePoem))
			r.Delete("/poems/{poemID}", MakeHandler(app, HandleDeletePoem))
			r.Post("/poems/{poemID}/publish", MakeHandler(app, HandlePublishPoem))
			r.Post("/poems/{poemID}/pin", MakeHandler(app, HandlePinPoem))
			r.Get("/drafts", MakeHandler(app, HandleListDrafts))

			r.Delete("/comments/{commentID}", MakeHandler(app, HandleDeleteComment))
			r.Get("/reports", MakeHandler(app, HandleListReports))
			r.Patch("/reports/{reportID}", MakeHandler(app, HandleResolveReport))

			r.Get("/subscribers", MakeHandler(app, HandleListSubscribers))
			r.Patch("/subscribers/{subscriberID}", MakeHandler(app, HandleUpdateSubscriber))
			r.Delete("/subscribers/{subscriberID}", MakeHandler(app, HandleDeleteSubscriber))
			r.Post("/subscribers/broadcast", MakeHandler(app, HandleBroadcast))

			r.Get("/activity", MakeHandler(app, HandleActivity))
			r.Get("/stats", MakeHandler(app, HandleStats))
			r.Post("/media", MakeHandler(app, HandleUploadMedia))
			r.Delete("/media", MakeHandler(app, HandleDeleteMedia))
			r.Post("/backup", MakeHandler(app, HandleDatabaseBackup))
		})
	})

	return mux
}
