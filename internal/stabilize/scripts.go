package stabilize

// In-page scripts. Each is evaluated with a single argument object.

// eagerImagesJS switches lazily-loaded images to eager so their fetches start before scrolling.
const eagerImagesJS = `() => {
	const imgs = document.querySelectorAll('img[loading="lazy"]');
	imgs.forEach(img => { img.loading = 'eager'; });
	return imgs.length;
}`

// scrollThroughJS walks the document top to bottom in half-viewport steps so intersection
// observers fire, then parks at the bottom so trailing sections render.
const scrollThroughJS = `async ({ pauseMs, bottomPauseMs, maxSteps }) => {
	const delay = ms => new Promise(r => setTimeout(r, ms));
	const step = Math.max(200, window.innerHeight / 2);
	let steps = 0;
	for (let y = 0; y < document.body.scrollHeight && steps < maxSteps; y += step, steps++) {
		window.scrollTo(0, y);
		await delay(pauseMs);
	}
	window.scrollTo(0, document.body.scrollHeight);
	await delay(bottomPauseMs);
	return steps;
}`

// traverseCarouselsJS scrolls every overflowing horizontal container to its end and back.
const traverseCarouselsJS = `async ({ selector, endPauseMs, startPauseMs }) => {
	const delay = ms => new Promise(r => setTimeout(r, ms));
	let traversed = 0;
	for (const scroller of document.querySelectorAll(selector)) {
		if (scroller.scrollWidth > scroller.clientWidth) {
			scroller.scrollLeft = scroller.scrollWidth;
			await delay(endPauseMs);
			scroller.scrollLeft = 0;
			await delay(startPauseMs);
			traversed++;
		}
	}
	return traversed;
}`

// reloadStalledImagesJS restarts every image that has not loaded and waits for all of them
// at once. Each wait resolves on load, error or timeoutMs, whichever comes first.
const reloadStalledImagesJS = `async ({ timeoutMs }) => {
	const stalled = img => !img.complete || img.naturalWidth === 0;
	const imgs = Array.from(document.querySelectorAll('img')).filter(img => img.src);
	const restarted = imgs.filter(stalled);
	restarted.forEach(img => {
		const src = img.src;
		img.src = '';
		img.src = src;
	});
	await Promise.all(imgs.map(img => {
		if (!stalled(img)) return Promise.resolve();
		return new Promise(resolve => {
			img.addEventListener('load', () => resolve(), { once: true });
			img.addEventListener('error', () => resolve(), { once: true });
			setTimeout(resolve, timeoutMs);
		});
	}));
	return restarted.length;
}`

// hidePlaceholdersJS makes placeholder overlays transparent so loaded images show through.
const hidePlaceholdersJS = `({ selector }) => {
	const els = document.querySelectorAll(selector);
	els.forEach(el => { el.style.opacity = '0'; });
	return els.length;
}`

const scrollTopJS = `() => { window.scrollTo(0, 0); return window.scrollY; }`
