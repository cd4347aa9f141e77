package content

// Default is the built-in half-day cybersecurity course.
func Default() Content {
	return Content{
		Title:    "Formation Cybersécurité",
		Subtitle: "Formation interactive - Demi-journée",
		Modules: []Module{
			{
				ID:         0,
				Title:      "Introduction",
				Summary:    "Accueil, objectifs et déroulé de la demi-journée",
				Steps:      []string{"intro", "objectifs", "deroulement", "ccin"},
				StepTitles: []string{"Introduction générale", "Objectifs", "Déroulement", "Présentation C'CIN"},
			},
			{
				ID:         1,
				Title:      "Introduction à la cybersécurité",
				Summary:    "Découvrir les concepts clés et identifier les menaces majeures",
				Steps:      []string{"concepts", "menaces", "atelier-phishing"},
				StepTitles: []string{"Concepts de base", "Principales menaces", "Atelier phishing"},
			},
			{
				ID:         2,
				Title:      "Bonnes pratiques",
				Summary:    "Appliquer les bons réflexes au quotidien sur ses comptes et appareils",
				Steps:      []string{"module2-intro", "module2-ateliers"},
				StepTitles: []string{"Introduction", "Ateliers pratiques"},
			},
			{
				ID:         3,
				Title:      "Protection des données",
				Summary:    "Classer les informations et limiter les risques internes",
				Steps:      []string{"module3-intro", "module3-risques", "module3-classification", "module3-ateliers"},
				StepTitles: []string{"Introduction", "Risques internes", "Classification données", "Ateliers pratiques"},
			},
			{
				ID:         4,
				Title:      "Réagir aux incidents",
				Summary:    "Détecter et contenir rapidement un incident de sécurité",
				Steps:      []string{"module4-intro", "module4-detection", "module4-reaction", "module4-atelier"},
				StepTitles: []string{"Introduction", "Détecter incident", "Plan de réaction", "Atelier simulation"},
			},
			{
				ID:         5,
				Title:      "Conclusion",
				Summary:    "Synthèse, ressources, quiz final et certificat",
				Steps:      []string{"conclusion-synthese", "conclusion-ressources", "conclusion-quiz", "conclusion-certificat"},
				StepTitles: []string{"Synthèse", "Ressources", "Quiz final", "Certificat"},
			},
		},
	}
}
