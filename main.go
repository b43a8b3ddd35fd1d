package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"cineclub-backend/billing"
	"cineclub-backend/clubs"
	"cineclub-backend/conn"
	"cineclub-backend/email"
	"cineclub-backend/entitlements"
	"cineclub-backend/login"
	"cineclub-backend/migrations"
	"cineclub-backend/profile"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	db, err := conn.NewMySQL()
	if err != nil {
		log.Fatalf("[BOOT] database connection failed: %v", err)
	}
	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("[BOOT] migrations failed: %v", err)
	}
	if err := migrations.SeedDefaultAdmin(); err != nil {
		log.Printf("[BOOT] seed admin failed: %v", err)
	}

	entRepo := entitlements.NewRepository(db)
	stripeSvc := billing.NewFromEnv(entRepo, entRepo)
	if stripeSvc == nil {
		log.Printf("[BOOT] STRIPE_SECRET_KEY not set, billing endpoints disabled")
	}

	rec := entitlements.NewReconciler(entRepo, stripeSvc, entRepo)
	if v := os.Getenv("RECONCILE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rec.WithWorkers(n)
		}
	}
	if v := os.Getenv("RECONCILE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rec.WithTimeout(time.Duration(n) * time.Second)
		}
	}

	// Token -> user resolution for handlers outside the login package.
	entitlements.RegisterUserResolver(func(token string) *entitlements.UserLite {
		em, ok := login.GetEmailFromToken(token)
		if !ok {
			return nil
		}
		u := migrations.GetUserByEmail(em)
		if u == nil {
			return nil
		}
		return &entitlements.UserLite{ID: u.ID, Email: u.Email}
	})
	billing.RegisterUserEmailResolver(func(userID int) string {
		if u := migrations.GetUserByID(userID); u != nil {
			return u.Email
		}
		return ""
	})
	billing.RegisterPremiumNotifier(func(addr string) {
		if err := email.SendPremiumActivated(addr); err != nil {
			log.Printf("send premium activation email failed for %s: %v", addr, err)
		}
	})
	entitlements.RegisterDowngradeNotifier(func(userID int) {
		u := migrations.GetUserByID(userID)
		if u == nil {
			return
		}
		if err := email.SendPremiumDowngraded(u.Email); err != nil {
			log.Printf("send premium downgrade email failed for %s: %v", u.Email, err)
		}
	})
	clubs.RegisterRoleChangeNotifier(func(targetUserID int, role clubs.Role) {
		u := migrations.GetUserByID(targetUserID)
		if u == nil {
			return
		}
		if err := email.SendRoleChanged(u.Email, string(role)); err != nil {
			log.Printf("send role change email failed for %s: %v", u.Email, err)
		}
	})

	r := gin.Default()

	r.POST("/login", login.Handler)
	r.POST("/register", login.RegisterHandler)
	r.GET("/session", login.SessionHandler)
	r.POST("/logout", login.LogoutHandler)
	r.POST("/refresh", login.RefreshHandler)
	r.POST("/change-password", login.ChangePasswordHandler)

	profile.NewHandler(entRepo).RegisterRoutes(r)
	entitlements.NewHandler(rec, entRepo).RegisterRoutes(r)
	billing.NewHandler(stripeSvc).RegisterRoutes(r)
	clubs.NewHandler(clubs.NewRepository(db)).RegisterRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("[BOOT] server exited: %v", err)
	}
}
