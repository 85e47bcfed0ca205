package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/config"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/database"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/logger"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/model"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/service"
)

// Seeds a demo class of students plus one published, proctored assessment so
// the attempt flow can be exercised end to end on a fresh database.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	authService := service.NewAuthService(cfg)

	fmt.Println("=== Seeding Demo Data ===")

	names := []string{
		"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
		"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	}

	passwordHash, err := authService.HashPassword("lmsjaya")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash seed password")
	}

	successCount := 0
	for i, name := range names {
		nisn := fmt.Sprintf("siswa%d", i+1)

		_, err := pool.Exec(ctx,
			`INSERT INTO students (nisn, name, class_name, password_hash)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (nisn) DO NOTHING`,
			nisn, name, "XII RPL 1", passwordHash,
		)
		if err != nil {
			fmt.Printf("Error creating student %s (NISN: %s): %v\n", name, nisn, err)
			continue
		}
		successCount++
	}
	fmt.Printf("Seeded %d/%d students (password: lmsjaya)\n", successCount, len(names))

	assessmentID := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO assessments (id, title, subject, duration_minutes, randomize_questions, max_violations, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		assessmentID, "Ujian Akhir Matematika", "Matematika", 60, true, 3, model.AssessmentStatusPublished,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create demo assessment")
	}

	type seedQuestion struct {
		text    string
		qtype   model.QuestionType
		options []string
		points  float64
	}

	questions := []seedQuestion{
		{"Berapakah hasil dari 12 x 8?", model.QuestionTypeMultipleChoice, []string{"86", "96", "104", "112"}, 10},
		{"Akar kuadrat dari 144 adalah...", model.QuestionTypeMultipleChoice, []string{"10", "11", "12", "14"}, 10},
		{"Hasil dari 3^4 adalah...", model.QuestionTypeMultipleChoice, []string{"27", "64", "81", "243"}, 10},
		{"Bilangan prima terkecil yang lebih besar dari 20 adalah...", model.QuestionTypeMultipleChoice, []string{"21", "22", "23", "25"}, 10},
		{"Jika f(x) = 2x + 3, maka f(5) = ...", model.QuestionTypeMultipleChoice, []string{"10", "13", "15", "18"}, 10},
		{"Jelaskan langkah-langkah menyelesaikan persamaan kuadrat dengan rumus abc.", model.QuestionTypeEssay, nil, 50},
	}

	for i, q := range questions {
		var options []byte
		if q.options != nil {
			options, _ = json.Marshal(q.options)
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO questions (id, assessment_id, question_text, question_type, options, points, order_num)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), assessmentID, q.text, q.qtype, options, q.points, i+1,
		)
		if err != nil {
			log.Fatal().Err(err).Int("order_num", i+1).Msg("Failed to create demo question")
		}
	}

	fmt.Printf("Seeded assessment %s with %d questions\n", assessmentID, len(questions))
	fmt.Println("\nSeed completed!")
}
