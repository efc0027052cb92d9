package definition

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Example returns the canonical example definition: a containerized web
// service moving through the fixed checkout → setup → lint → test → scan →
// build → deploy → health ordering, with lint and scan allowed to fail
// without stopping the run and deployment gated on the main branch.
func Example() *Document {
	return &Document{
		Pipeline: "cloud-kitchen",
		Env: map[string]string{
			"APP_NAME": "cloud-kitchen",
			"IMAGE":    "registry.local/cloud-kitchen",
			"VENV":     ".venv",
		},
		Budget:   "45m",
		Defaults: Defaults{Timeout: "10m"},
		Stages: []StageEntry{
			{StageDoc: StageDoc{
				Name: "checkout",
				Steps: []StepDoc{{
					Name:   "clone",
					Action: "git-checkout",
					With: map[string]string{
						"url":    "https://git.example.com/kitchen/cloud-kitchen.git",
						"branch": "${BRANCH}",
						"dir":    "src",
					},
				}},
			}},
			{StageDoc: StageDoc{
				Name: "setup",
				Steps: []StepDoc{
					{Name: "venv", Run: "python3 -m venv ${VENV}"},
					{Name: "deps", Run: "${VENV}/bin/pip install -r src/requirements.txt"},
				},
			}},
			{StageDoc: StageDoc{
				Name: "lint",
				Steps: []StepDoc{{
					Name:            "pylint",
					Run:             "${VENV}/bin/pylint src/app",
					ContinueOnError: true,
				}},
			}},
			{StageDoc: StageDoc{
				Name: "test",
				Steps: []StepDoc{{
					Name: "pytest",
					Run:  "${VENV}/bin/pytest src/tests --junitxml=reports/tests.xml",
				}},
			}},
			{StageDoc: StageDoc{
				Name: "scan",
				Secrets: []SecretDoc{
					{ID: "sonar-token", Env: "SONAR_AUTH_TOKEN"},
				},
				Steps: []StepDoc{{
					Name:            "sonar",
					Run:             "sonar-scanner -Dsonar.projectKey=${APP_NAME} -Dsonar.token=${SONAR_AUTH_TOKEN}",
					Timeout:         "15m",
					ContinueOnError: true,
				}},
			}},
			{StageDoc: StageDoc{
				Name: "build",
				Steps: []StepDoc{{
					Name: "image",
					Run:  "docker build -t ${IMAGE}:${RUN_NUMBER} src",
				}},
			}},
			{StageDoc: StageDoc{
				Name: "deploy",
				When: `branch == "main"`,
				Secrets: []SecretDoc{
					{ID: "registry-password", Env: "REGISTRY_PASSWORD"},
				},
				Steps: []StepDoc{
					{
						Name: "push",
						Run:  "docker login -u ci -p ${REGISTRY_PASSWORD} registry.local && docker push ${IMAGE}:${RUN_NUMBER}",
					},
					{
						Name:            "stop-old",
						Run:             "docker stop ${APP_NAME}",
						ContinueOnError: true,
					},
					{
						Name: "start",
						Run:  "docker run -d --name ${APP_NAME} -p 5000:5000 ${IMAGE}:${RUN_NUMBER}",
					},
				},
			}},
			{StageDoc: StageDoc{
				Name: "health",
				When: `branch == "main"`,
				Steps: []StepDoc{{
					Name:   "probe",
					Action: "http-check",
					With: map[string]string{
						"url":      "http://localhost:5000/health",
						"contains": "healthy",
					},
					Timeout: "2m",
				}},
			}},
		},
		Post: &PostDoc{
			Always: []StepDoc{{
				Name: "summary",
				Run:  `echo "run ${RUN_ID} of ${PIPELINE} finished"`,
			}},
			Failure: []StepDoc{{
				Name: "alert",
				Run:  `echo "pipeline ${PIPELINE} failed on ${BRANCH}"`,
			}},
		},
	}
}

// Init creates a new definition file with example content.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("definition file already exists: %s (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(Example())
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write definition file: %w", err)
	}

	return nil
}
