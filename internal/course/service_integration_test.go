package course

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/dbtest"
)

func TestChapterPositions_DBIntegration(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	svc := NewService(conn)

	teacher := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleTeacher), Role: auth.RoleTeacher}
	c, err := svc.CreateCourse(ctx, teacher, CourseInput{Title: "ITEST course"})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}

	var ids []int64
	for i, title := range []string{"one", "two", "three"} {
		ch, err := svc.CreateChapter(ctx, teacher, c.ID, ChapterInput{Title: title, IsPublished: true})
		if err != nil {
			t.Fatalf("create chapter: %v", err)
		}
		if ch.Position != i+1 {
			t.Fatalf("expected position %d, got %d", i+1, ch.Position)
		}
		ids = append(ids, ch.ID)
	}

	if err := svc.DeleteChapter(ctx, teacher, ids[0]); err != nil {
		t.Fatalf("delete chapter: %v", err)
	}
	managed, err := svc.GetCourseForManage(ctx, teacher, c.ID)
	if err != nil {
		t.Fatalf("get course: %v", err)
	}
	if len(managed.Chapters) != 2 || managed.Chapters[0].ID != ids[1] || managed.Chapters[0].Position != 1 || managed.Chapters[1].Position != 2 {
		t.Fatalf("expected dense positions after delete, got %+v", managed.Chapters)
	}

	next, err := svc.CreateChapter(ctx, teacher, c.ID, ChapterInput{Title: "four"})
	if err != nil {
		t.Fatalf("create chapter after delete: %v", err)
	}
	if next.Position != 3 {
		t.Fatalf("expected position 3 after delete, got %d", next.Position)
	}

	reordered, err := svc.ReorderChapters(ctx, teacher, c.ID, []int64{next.ID, ids[2], ids[1]})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if reordered[0].ID != next.ID || reordered[2].ID != ids[1] {
		t.Fatalf("unexpected order %+v", reordered)
	}
	if _, err := svc.ReorderChapters(ctx, teacher, c.ID, []int64{next.ID}); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder for partial order, got %v", err)
	}
}

func TestCrossTeacherMutationForbidden_DBIntegration(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	svc := NewService(conn)

	owner := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleTeacher), Role: auth.RoleTeacher}
	other := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleTeacher), Role: auth.RoleTeacher}
	admin := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleAdmin), Role: auth.RoleAdmin}

	c, err := svc.CreateCourse(ctx, owner, CourseInput{Title: "ITEST owned"})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	if _, err := svc.UpdateCourse(ctx, other, c.ID, CourseInput{Title: "hijack"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CreateChapter(ctx, other, c.ID, ChapterInput{Title: "x"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on chapter create, got %v", err)
	}
	if err := svc.DeleteCourse(ctx, other, c.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on delete, got %v", err)
	}
	if _, err := svc.UpdateCourse(ctx, admin, c.ID, CourseInput{Title: "renamed by admin"}); err != nil {
		t.Fatalf("admin update: %v", err)
	}
}

func TestPublishRuleAndPurchase_DBIntegration(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	svc := NewService(conn)

	teacher := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleTeacher), Role: auth.RoleTeacher}
	student := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleStudent), Role: auth.RoleStudent}

	c, err := svc.CreateCourse(ctx, teacher, CourseInput{Title: "ITEST publish", Price: 99})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	if _, err := svc.UpdateCourse(ctx, teacher, c.ID, CourseInput{Title: c.Title, Price: 99, IsPublished: true}); !errors.Is(err, ErrNotPublishable) {
		t.Fatalf("expected ErrNotPublishable, got %v", err)
	}
	ch, err := svc.CreateChapter(ctx, teacher, c.ID, ChapterInput{Title: "intro", VideoURL: "https://video.test/1", IsPublished: true})
	if err != nil {
		t.Fatalf("create chapter: %v", err)
	}
	if _, err := svc.UpdateCourse(ctx, teacher, c.ID, CourseInput{Title: c.Title, Price: 99, IsPublished: true}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	detail, err := svc.GetCourse(ctx, student, c.ID)
	if err != nil {
		t.Fatalf("get course: %v", err)
	}
	if detail.Purchased || detail.Chapters[0].VideoURL != "" {
		t.Fatalf("expected locked chapter before purchase, got %+v", detail)
	}

	if _, err := svc.Purchase(ctx, student, c.ID); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := svc.Purchase(ctx, student, c.ID); !errors.Is(err, ErrAlreadyPurchased) {
		t.Fatalf("expected ErrAlreadyPurchased, got %v", err)
	}
	detail, err = svc.GetCourse(ctx, student, c.ID)
	if err != nil {
		t.Fatalf("get course after purchase: %v", err)
	}
	if !detail.Purchased || detail.Chapters[0].VideoURL != "https://video.test/1" {
		t.Fatalf("expected unlocked chapter after purchase, got %+v", detail)
	}

	if err := svc.DeleteChapter(ctx, teacher, ch.ID); err != nil {
		t.Fatalf("delete chapter: %v", err)
	}
	if _, err := svc.GetCourse(ctx, student, c.ID); !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("expected course to be unpublished after its last chapter went away, got %v", err)
	}
}

func TestConcurrentSiblingDeletes_DBIntegration(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	svc := NewService(conn)
	teacher := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleTeacher), Role: auth.RoleTeacher}

	var courseIDs []int64
	for _, title := range []string{"ITEST one", "ITEST two", "ITEST three", "ITEST four"} {
		c, err := svc.CreateCourse(ctx, teacher, CourseInput{Title: title})
		if err != nil {
			t.Fatalf("create course: %v", err)
		}
		courseIDs = append(courseIDs, c.ID)
	}
	kept := courseIDs[3]
	var chapterIDs []int64
	for _, title := range []string{"one", "two", "three", "four", "five"} {
		ch, err := svc.CreateChapter(ctx, teacher, kept, ChapterInput{Title: title, IsPublished: true})
		if err != nil {
			t.Fatalf("create chapter: %v", err)
		}
		chapterIDs = append(chapterIDs, ch.ID)
	}

	var wg sync.WaitGroup
	for _, id := range courseIDs[:3] {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := svc.DeleteCourse(ctx, teacher, id); err != nil {
				t.Errorf("delete course %d: %v", id, err)
			}
		}(id)
	}
	for _, id := range chapterIDs[:3] {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := svc.DeleteChapter(ctx, teacher, id); err != nil {
				t.Errorf("delete chapter %d: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	own, err := svc.ListOwnCourses(ctx, teacher)
	if err != nil {
		t.Fatalf("list courses: %v", err)
	}
	if len(own) != 1 || own[0].ID != kept || own[0].Position != 1 {
		t.Fatalf("expected one course at position 1, got %+v", own)
	}
	managed, err := svc.GetCourseForManage(ctx, teacher, kept)
	if err != nil {
		t.Fatalf("get course: %v", err)
	}
	if len(managed.Chapters) != 2 || managed.Chapters[0].ID != chapterIDs[3] || managed.Chapters[0].Position != 1 || managed.Chapters[1].Position != 2 {
		t.Fatalf("expected dense chapter positions, got %+v", managed.Chapters)
	}
}
